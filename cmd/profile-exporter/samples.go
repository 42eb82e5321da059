package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/szibis/profile-exporter/internal/config"
	"github.com/szibis/profile-exporter/internal/logging"
	"github.com/szibis/profile-exporter/internal/plugin"
	"github.com/szibis/profile-exporter/internal/schema"
)

var errUnknownDataset = errors.New("unknown dataset")

// dataset is a table created for the step, addressed by name on stdin.
type dataset struct {
	handle schema.Handle
	fields []schema.Field
}

// createDatasets registers every configured dataset with the plugin.
// Nothing is registered when the step is not profiled.
func createDatasets(p *plugin.Plugin, decls []config.DatasetConfig) (map[string]dataset, error) {
	datasets := make(map[string]dataset, len(decls))
	for _, d := range decls {
		defs, err := d.Definitions()
		if err != nil {
			return nil, err
		}
		h, err := p.CreateDataset(d.Name, p.CreateGroup(d.Name), defs)
		if errors.Is(err, schema.ErrProfilingInactive) {
			logging.Info("profiling inactive for this step, samples will be discarded")
			return map[string]dataset{}, nil
		}
		if err != nil {
			return nil, err
		}
		datasets[d.Name] = dataset{handle: h, fields: defs}
	}
	return datasets, nil
}

// parseSample parses "<dataset> <v1> <v2> ..." against the dataset's fields.
func parseSample(line string, datasets map[string]dataset) (schema.Handle, []schema.Value, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return schema.InvalidHandle, nil, errors.New("empty sample")
	}
	ds, ok := datasets[parts[0]]
	if !ok {
		return schema.InvalidHandle, nil, fmt.Errorf("%w: %q", errUnknownDataset, parts[0])
	}

	raw := parts[1:]
	if len(raw) != len(ds.fields) {
		return schema.InvalidHandle, nil, fmt.Errorf("dataset %q: %w: got %d, want %d", parts[0], schema.ErrValueCount, len(raw), len(ds.fields))
	}
	values := make([]schema.Value, len(raw))
	for i, f := range ds.fields {
		switch f.Type {
		case schema.UInt64:
			u, err := strconv.ParseUint(raw[i], 10, 64)
			if err != nil {
				return schema.InvalidHandle, nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			values[i] = schema.U64(u)
		case schema.Double:
			d, err := strconv.ParseFloat(raw[i], 64)
			if err != nil {
				return schema.InvalidHandle, nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			values[i] = schema.F64(d)
		}
	}
	return ds.handle, values, nil
}

// readLines sends non-blank, non-comment lines from r until EOF or ctx
// ends. The channel is closed when reading stops.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logging.Error("failed to read samples", logging.F("error", err.Error()))
		}
	}()
	return lines
}

// sampleLoop feeds every line to the plugin until lines closes or ctx ends.
// Malformed lines are logged and skipped.
func sampleLoop(ctx context.Context, p *plugin.Plugin, datasets map[string]dataset, lines <-chan string) (int, error) {
	var accepted int
	for {
		select {
		case <-ctx.Done():
			return accepted, nil
		case line, ok := <-lines:
			if !ok {
				return accepted, nil
			}
			h, values, err := parseSample(line, datasets)
			if err != nil {
				if len(datasets) > 0 {
					logging.Warn("skipping sample", logging.F("line", line, "error", err.Error()))
				}
				continue
			}
			if err := p.AddSampleData(ctx, h, values, time.Now()); err != nil {
				logging.Warn("sample rejected", logging.F("line", line, "error", err.Error()))
				continue
			}
			accepted++
		}
	}
}
