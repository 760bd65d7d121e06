// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(t *testing.T, flags map[string]string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addModelFlags(cmd.Flags())
	cmd.Flags().String("config", "", "")
	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	return cmd
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVOptions(t *testing.T) {
	opts, err := csvOptions(newTestCommand(t, nil).Flags())
	require.NoError(t, err)
	assert.Equal(t, ',', opts.Sep)
	assert.False(t, opts.Header)

	opts, err = csvOptions(newTestCommand(t, map[string]string{"sep": `\t`, "header": "true"}).Flags())
	require.NoError(t, err)
	assert.Equal(t, '\t', opts.Sep)
	assert.True(t, opts.Header)

	_, err = csvOptions(newTestCommand(t, map[string]string{"sep": ";;"}).Flags())
	assert.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.csv", "1,A,1\n2,A,1\n2,B,1\n3,B,1\n")
	incremental := writeFile(t, dir, "incremental.csv", "1,B,1\n")

	model, err := loadModel(context.Background(), newTestCommand(t, map[string]string{"data": data}))
	require.NoError(t, err)
	assert.True(t, model.IsFit())
	score, err := model.Predict("1", "B")
	require.NoError(t, err)
	assert.Equal(t, float32(1), score)

	model, err = loadModel(context.Background(), newTestCommand(t, map[string]string{
		"data":        data,
		"incremental": incremental,
	}))
	require.NoError(t, err)
	assert.Zero(t, model.DirtyUsers())
	neighbors, err := model.Neighbors("1")
	require.NoError(t, err)
	assert.Len(t, neighbors, 2)

	// snapshot round trip
	snapshot := filepath.Join(dir, "model.bin")
	file, err := os.Create(snapshot)
	require.NoError(t, err)
	writer := bufio.NewWriter(file)
	require.NoError(t, model.Marshal(writer))
	require.NoError(t, writer.Flush())
	require.NoError(t, file.Close())
	restored, err := loadModel(context.Background(), newTestCommand(t, map[string]string{"snapshot": snapshot}))
	require.NoError(t, err)
	if diff := cmp.Diff(model.Snapshot(), restored.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("restored snapshot differs (-original +restored):\n%s", diff)
	}
}

func TestLoadModelError(t *testing.T) {
	dir := t.TempDir()
	_, err := loadModel(context.Background(), newTestCommand(t, map[string]string{"data": filepath.Join(dir, "missing.csv")}))
	assert.Error(t, err)

	invalid := writeFile(t, dir, "invalid.csv", "1,A,abc\n")
	_, err = loadModel(context.Background(), newTestCommand(t, map[string]string{"data": invalid}))
	assert.Error(t, err)

	broken := writeFile(t, dir, "broken.bin", "\x01")
	_, err = loadModel(context.Background(), newTestCommand(t, map[string]string{"snapshot": broken}))
	assert.Error(t, err)

	_, err = loadModel(context.Background(), newTestCommand(t, map[string]string{"config": filepath.Join(dir, "missing.toml")}))
	assert.Error(t, err)
}
