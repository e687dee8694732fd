package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"batchzip/internal/models"
)

// readURLs loads a URL list. Files ending in .yaml or .yml hold a run request
// ("urls:" plus optional "batch_size:"); anything else is one URL per line,
// with blank lines and # comments skipped.
func readURLs(path string) (urls []string, batchSize int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read url list: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var req models.RunRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return nil, 0, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for _, u := range req.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return urls, req.BatchSize, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return urls, 0, nil
}
