package docker

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"drover/internal/backend/shell"
	"drover/internal/job"
)

// Scripts carry their own placement in #DROVER directive comments, the
// way sbatch scripts carry #SBATCH lines. Submit reads them back so it
// needs nothing beyond the script path.
const directivePrefix = "#DROVER "

const defaultImage = "debian:bookworm-slim"

type directives struct {
	image   string
	cpus    int
	gpus    int
	memory  string
	workdir string
	stdout  string
	stderr  string
}

// GenerateScript renders the container script for j. Pure: same job, same
// profile, same text.
func (b *Backend) GenerateScript(j *job.Job) string {
	res := j.Resources.Data()
	image := b.prof.Docker.Image
	if image == "" {
		image = defaultImage
	}

	// POSIX sh, not bash: minimal container images often carry only sh.
	lines := []string{
		"#!/bin/sh",
		directivePrefix + "image=" + image,
	}
	if res.CPUs > 0 {
		lines = append(lines, fmt.Sprintf("%scpus=%d", directivePrefix, res.CPUs))
	}
	if res.GPUs > 0 {
		lines = append(lines, fmt.Sprintf("%sgpus=%d", directivePrefix, res.GPUs))
	}
	if res.Memory != "" {
		lines = append(lines, directivePrefix+"memory="+res.Memory)
	}
	if j.Workdir != "" {
		lines = append(lines, directivePrefix+"workdir="+j.Workdir)
	}
	if j.StdoutPath != "" {
		lines = append(lines, directivePrefix+"stdout="+j.StdoutPath)
	}
	if j.StderrPath != "" {
		lines = append(lines, directivePrefix+"stderr="+j.StderrPath)
	}

	lines = append(lines, "")
	// Containers have no scheduler writing the output files, so the
	// script redirects its own streams.
	if j.StdoutPath != "" && j.StderrPath != "" {
		lines = append(lines, fmt.Sprintf("exec > %q 2> %q", j.StdoutPath, j.StderrPath), "")
	}
	if j.Workdir != "" {
		lines = append(lines, "cd "+j.Workdir, "")
	}
	if exports := shell.ExportLines(b.prof.Env, j.Env.Data()); len(exports) > 0 {
		lines = append(lines, exports...)
		lines = append(lines, "")
	}

	lines = append(lines, j.Command, "")
	return strings.Join(lines, "\n")
}

// parseDirectives reads the #DROVER block back out of a generated script.
func parseDirectives(scriptPath string) (directives, error) {
	var d directives
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return d, fmt.Errorf("read script: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(line, directivePrefix)
		if !ok {
			continue
		}
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "image":
			d.image = value
		case "cpus":
			if n, err := strconv.Atoi(value); err == nil {
				d.cpus = n
			}
		case "gpus":
			if n, err := strconv.Atoi(value); err == nil {
				d.gpus = n
			}
		case "memory":
			d.memory = value
		case "workdir":
			d.workdir = value
		case "stdout":
			d.stdout = value
		case "stderr":
			d.stderr = value
		}
	}
	return d, nil
}
