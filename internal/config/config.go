// SPDX-License-Identifier: MIT

// Package config provides configuration management for the admission
// controller: defaults, YAML file loading with strict unknown-field
// rejection, and a watcher for safe runtime reload.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oasdiff/yaml"
)

// Default values, per the admission controller's documented defaults.
const (
	DefaultCPUThreshold          = 80
	DefaultMemoryThreshold       = 90
	DefaultUseMemoryMonitoring   = true
	DefaultMaxQueueSize          = 100
	DefaultMaxConcurrentRequests = 100
	DefaultMaxWaitSeconds        = 30
	DefaultRejectStatus          = 503
	DefaultRejectBody            = `{"error":"Server is busy, please try again later."}`
	DefaultEnableLogs            = true
)

// Resolved is the validated runtime configuration handed to the
// admission controller. Unlike fileOptions, every field has a concrete
// value — bool-vs-unset ambiguity is only a concern while merging YAML.
type Resolved struct {
	CPUThreshold          int
	MemoryThreshold       int
	UseMemoryMonitoring   bool
	MaxQueueSize          int
	MaxConcurrentRequests int
	MaxWaitSeconds        float64
	RejectStatus          int
	RejectBody            string
	EnableLogs            bool
	ExemptPaths           []string
}

// Defaults returns the built-in Resolved configuration.
func Defaults() Resolved {
	return Resolved{
		CPUThreshold:          DefaultCPUThreshold,
		MemoryThreshold:       DefaultMemoryThreshold,
		UseMemoryMonitoring:   DefaultUseMemoryMonitoring,
		MaxQueueSize:          DefaultMaxQueueSize,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		MaxWaitSeconds:        DefaultMaxWaitSeconds,
		RejectStatus:          DefaultRejectStatus,
		RejectBody:            DefaultRejectBody,
		EnableLogs:            DefaultEnableLogs,
		ExemptPaths:           []string{"health", "cpu", "memory", "/_", "metrics", "swagger"},
	}
}

// fileOptions mirrors Resolved with pointer fields, so decoding can tell
// "not present in YAML" apart from "explicitly zero/false".
type fileOptions struct {
	CPUThreshold          *int     `yaml:"cpuThreshold,omitempty"`
	MemoryThreshold       *int     `yaml:"memoryThreshold,omitempty"`
	UseMemoryMonitoring   *bool    `yaml:"useMemoryMonitoring,omitempty"`
	MaxQueueSize          *int     `yaml:"maxQueueSize,omitempty"`
	MaxConcurrentRequests *int     `yaml:"maxConcurrentRequests,omitempty"`
	MaxWaitSeconds        *float64 `yaml:"maxWaitSeconds,omitempty"`
	RejectStatus          *int     `yaml:"rejectStatus,omitempty"`
	RejectBody            *string  `yaml:"rejectBody,omitempty"`
	EnableLogs            *bool    `yaml:"enableLogs,omitempty"`
	ExemptPaths           []string `yaml:"exemptPaths,omitempty"`
}

// Load reads YAML configuration from path, merges it over Defaults, and
// validates the result. An empty path returns defaults only.
func Load(path string) (Resolved, error) {
	r := Defaults()

	if path == "" {
		return r, Validate(r)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return r, fmt.Errorf("config: read %s: %w", path, err)
	}

	fo, err := decodeStrict(data)
	if err != nil {
		return r, fmt.Errorf("config: parse %s: %w", path, err)
	}

	merge(&r, fo)

	if err := Validate(r); err != nil {
		return r, err
	}
	return r, nil
}

// decodeStrict parses YAML with unknown-field rejection so a typo'd key
// fails loudly instead of silently falling back to its default.
func decodeStrict(data []byte) (fileOptions, error) {
	var fo fileOptions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fo); err != nil {
		if err == io.EOF {
			return fileOptions{}, nil
		}
		return fileOptions{}, err
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return fileOptions{}, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return fo, nil
}

func merge(dst *Resolved, src fileOptions) {
	if src.CPUThreshold != nil {
		dst.CPUThreshold = *src.CPUThreshold
	}
	if src.MemoryThreshold != nil {
		dst.MemoryThreshold = *src.MemoryThreshold
	}
	if src.UseMemoryMonitoring != nil {
		dst.UseMemoryMonitoring = *src.UseMemoryMonitoring
	}
	if src.MaxQueueSize != nil {
		dst.MaxQueueSize = *src.MaxQueueSize
	}
	if src.MaxConcurrentRequests != nil {
		dst.MaxConcurrentRequests = *src.MaxConcurrentRequests
	}
	if src.MaxWaitSeconds != nil {
		dst.MaxWaitSeconds = *src.MaxWaitSeconds
	}
	if src.RejectStatus != nil {
		dst.RejectStatus = *src.RejectStatus
	}
	if src.RejectBody != nil {
		dst.RejectBody = *src.RejectBody
	}
	if src.EnableLogs != nil {
		dst.EnableLogs = *src.EnableLogs
	}
	if len(src.ExemptPaths) > 0 {
		dst.ExemptPaths = append([]string(nil), src.ExemptPaths...)
	}
}

// Validate enforces the admission controller's documented bounds.
func Validate(r Resolved) error {
	if r.CPUThreshold < 0 || r.CPUThreshold > 100 {
		return fmt.Errorf("config: cpuThreshold must be in [0,100], got %d", r.CPUThreshold)
	}
	if r.MemoryThreshold < 0 || r.MemoryThreshold > 100 {
		return fmt.Errorf("config: memoryThreshold must be in [0,100], got %d", r.MemoryThreshold)
	}
	if r.MaxQueueSize < 1 {
		return fmt.Errorf("config: maxQueueSize must be >= 1, got %d", r.MaxQueueSize)
	}
	if r.MaxConcurrentRequests < 1 {
		return fmt.Errorf("config: maxConcurrentRequests must be >= 1, got %d", r.MaxConcurrentRequests)
	}
	if r.MaxWaitSeconds < 0 {
		return fmt.Errorf("config: maxWaitSeconds must be >= 0, got %f", r.MaxWaitSeconds)
	}
	if r.RejectStatus < 100 || r.RejectStatus > 599 {
		return fmt.Errorf("config: rejectStatus must be a valid HTTP status, got %d", r.RejectStatus)
	}
	return nil
}
