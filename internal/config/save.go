// SPDX-License-Identifier: MIT

package config

import (
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/oasdiff/yaml"
)

// Save atomically persists r to path as YAML, so a reload racing a
// crashed writer never observes a half-written file. renameio handles
// temp-file creation, fsync, and atomic rename; the temp file is
// removed automatically if the write doesn't commit.
func Save(path string, r Resolved) error {
	data, err := yaml.Marshal(toFileOptions(r))
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("config: create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("config: atomic replace: %w", err)
	}
	return nil
}

func toFileOptions(r Resolved) fileOptions {
	cpu, mem := r.CPUThreshold, r.MemoryThreshold
	maxQ, maxC := r.MaxQueueSize, r.MaxConcurrentRequests
	wait := r.MaxWaitSeconds
	status := r.RejectStatus
	body := r.RejectBody
	useMem, logs := r.UseMemoryMonitoring, r.EnableLogs

	return fileOptions{
		CPUThreshold:          &cpu,
		MemoryThreshold:       &mem,
		UseMemoryMonitoring:   &useMem,
		MaxQueueSize:          &maxQ,
		MaxConcurrentRequests: &maxC,
		MaxWaitSeconds:        &wait,
		RejectStatus:          &status,
		RejectBody:            &body,
		EnableLogs:            &logs,
		ExemptPaths:           r.ExemptPaths,
	}
}
