// checkpoint.go writes and reads the on-disk JSON artifacts that let a
// crashed or paused run resume without re-transcribing finished chunks.
package datastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChunkCheckpointPath returns jobDir/checkpoints/chunk_XXXX.json.
func ChunkCheckpointPath(jobDir string, idx int) string {
	return filepath.Join(jobDir, "checkpoints", fmt.Sprintf("chunk_%04d.json", idx))
}

// ResultPath returns jobDir/checkpoints/result.json.
func ResultPath(jobDir string) string {
	return filepath.Join(jobDir, "checkpoints", "result.json")
}

// WriteJSONAtomic marshals payload and writes it with the tmp+rename pattern
// so readers never observe a partial file. The target directory must exist.
func WriteJSONAtomic(path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s onto %s: %w", tmp, path, err)
	}
	return nil
}

// ReadJobResult loads a checkpoints/result.json file.
func ReadJobResult(path string) (*JobResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job result: %w", err)
	}
	var result JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding job result: %w", err)
	}
	return &result, nil
}
