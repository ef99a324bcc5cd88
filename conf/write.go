// Copyright 2025 The contributors of Blockapi.
// This file is part of Blockapi, a blocking LLM API under the MIT License.
// SPDX-License-Identifier: MIT

package conf

import (
	"bytes"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v4"

	"github.com/LM4eu/blockapi/gie"
)

const header = `# Configuration of blockapi, the blocking LLM API
# Env. vars BA_xxx precede this file, command line flags precede env. vars.`

// Write populates the configuration with the env vars and writes it to the given file.
// Write returns false when the file already has the same content.
func (cfg *Cfg) Write(file string) (bool, error) {
	err := cfg.applyEnvVars()
	if err != nil {
		return false, err
	}
	cfg.trimParamValues()

	yml, err := yaml.Marshal(cfg)
	if err != nil {
		return false, gie.Wrap(err, gie.ConfigErr, "failed to yaml.Marshal")
	}

	return writeWithHeader(file, header, yml)
}

// writeWithHeader writes the file unless its content is unchanged.
func writeWithHeader(path, header string, data []byte) (bool, error) {
	path = filepath.Clean(path)

	content := make([]byte, 0, len(header)+2+len(data))
	content = append(content, header...)
	content = append(content, "\n\n"...)
	content = append(content, data...)

	old, err := os.ReadFile(path)
	if err == nil && bytes.Equal(old, content) {
		return false, nil
	}

	err = os.WriteFile(path, content, 0o600)
	if err != nil {
		return false, gie.Wrap(err, gie.ConfigErr, "failed to write", "file", path)
	}

	return true, nil
}
