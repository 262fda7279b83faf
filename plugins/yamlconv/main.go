// Command yamlconv is a convoy converter plugin that rewrites JSON documents
// as YAML and back. It speaks protocol version 1: one request on stdin, one
// response on stdout.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/protocol"
)

const (
	defaultIndent = 2

	codeInvalidInput = "INVALID_INPUT"
	codeBadRequest   = "BAD_REQUEST"
)

type pluginConfig struct {
	Indent int
}

func main() {
	resp := handle()
	_ = protocol.EncodeResponse(os.Stdout, &resp)
}

func handle() protocol.Response {
	req, err := protocol.DecodeRequest(os.Stdin)
	if err != nil {
		return errResp(codeBadRequest, fmt.Sprintf("invalid request: %v", err))
	}
	return convert(req)
}

func convert(req *protocol.Request) protocol.Response {
	if len(req.OutputPaths) == 0 {
		return errResp(codeBadRequest, "request has no output_paths")
	}
	cfg, err := parseConfig(req.Options)
	if err != nil {
		return errResp(codeBadRequest, err.Error())
	}

	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return errResp(codeInvalidInput, err.Error())
	}
	doc, err := decode(req.InputPath, data)
	if err != nil {
		return errResp(codeInvalidInput, err.Error())
	}

	var out []byte
	switch strings.ToLower(req.TargetFormat) {
	case "yaml", "yml":
		out, err = encodeYAML(doc, cfg.Indent)
	case "json":
		out, err = json.MarshalIndent(doc, "", strings.Repeat(" ", cfg.Indent))
		out = append(out, '\n')
	default:
		return errResp("UNSUPPORTED_TARGET", fmt.Sprintf("yamlconv cannot produce %q", req.TargetFormat))
	}
	if err != nil {
		return errResp(codeInvalidInput, err.Error())
	}

	target := req.OutputPaths[0]
	if err := os.WriteFile(target, out, 0o644); err != nil {
		return errResp("WRITE_FAILED", err.Error())
	}

	return protocol.Response{
		Status:      protocol.StatusOK,
		OutputPaths: []string{target},
		Logs: []protocol.LogEntry{
			{Level: "info", Message: fmt.Sprintf("wrote %d bytes to %s", len(out), filepath.Base(target))},
		},
	}
}

// decode parses JSON or YAML into generic values that both encoders accept.
func decode(path string, data []byte) (any, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	return normalize(doc), nil
}

// normalize turns yaml's map[any]any keys and json.Number into types both
// encoders render the same way.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func encodeYAML(doc any, indent int) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(indent)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseConfig(opts map[string]any) (pluginConfig, error) {
	cfg := pluginConfig{Indent: defaultIndent}
	raw, ok := opts["indent"]
	if !ok {
		return cfg, nil
	}
	var n int
	switch v := raw.(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("indent must be an integer, got %q", v)
		}
		n = parsed
	default:
		return cfg, fmt.Errorf("indent must be an integer")
	}
	if n < 1 || n > 8 {
		return cfg, fmt.Errorf("indent must be between 1 and 8, got %d", n)
	}
	cfg.Indent = n
	return cfg, nil
}

func errResp(code, msg string) protocol.Response {
	return protocol.Response{Status: protocol.StatusError, ErrorCode: code, Error: msg}
}
