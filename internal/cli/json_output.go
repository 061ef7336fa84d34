// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output for --json, highlighted on a terminal.

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// writeJSON writes v as indented JSON. Output to a color terminal is
// syntax highlighted; anything else gets the plain bytes.
func writeJSON(out io.Writer, v interface{}) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return err
	}

	data := buf.Bytes()
	if out == io.Writer(os.Stdout) && ColorsEnabled() {
		if highlighted, err := highlightJSON(data); err == nil {
			data = highlighted
		}
	}

	_, err := out.Write(data)
	return err
}

// highlightJSON applies terminal syntax highlighting to JSON text.
func highlightJSON(data []byte) ([]byte, error) {
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, string(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
