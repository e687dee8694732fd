package batch

import "fmt"

// DefaultArchivePrefix names archives when Options.ArchivePrefix is empty
const DefaultArchivePrefix = "grok_media"

// Batch is a contiguous slice of a run's URLs. Index is 1-based.
type Batch struct {
	Index int
	Total int
	URLs  []string
}

// Partition splits urls into ceil(len(urls)/size) contiguous batches in input
// order. Every batch but the last holds exactly size URLs. size is clamped to 1.
func Partition(urls []string, size int) []Batch {
	if size < 1 {
		size = 1
	}
	total := (len(urls) + size - 1) / size

	batches := make([]Batch, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(urls) {
			end = len(urls)
		}
		batches = append(batches, Batch{
			Index: i + 1,
			Total: total,
			URLs:  urls[start:end:end],
		})
	}
	return batches
}

// ArchiveName returns the file name for a batch's archive. Multi-batch runs
// get a part suffix; single-batch runs don't.
func ArchiveName(prefix string, stamp int64, index, total int) string {
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	if total > 1 {
		return fmt.Sprintf("%s_%d_part_%d_of_%d.zip", prefix, stamp, index, total)
	}
	return fmt.Sprintf("%s_%d.zip", prefix, stamp)
}
