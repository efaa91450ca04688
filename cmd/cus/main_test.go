// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/testutil"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "fire", "sweep", "list", "uninstall", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cus dev")
}

func TestUninstallRequiresConfirmation(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"uninstall"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestFireRejectsBadID(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"fire", "abc"})

	assert.Error(t, cmd.Execute())
}

func testEnv(t *testing.T) {
	t.Setenv("CUS_ENV", "development")
	t.Setenv("CUS_DB_PATH", filepath.Join(t.TempDir(), "data", "cus.db"))
	t.Setenv("CUS_LOG_LEVEL", "error")
	for _, name := range []string{"CUS_REDIS_URL", "CUS_AMQP_URL", "CUS_API_KEYS", "CUS_INTEGRATIONS_FILE"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestSetupAndFire(t *testing.T) {
	testEnv(t)
	ctx := context.Background()
	opts := &rootOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")}

	a, err := setup(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, a.health(ctx))

	origID := testutil.CreateDocument(t, a.plugin.Documents, model.Document{
		Type: model.TypePost, Title: "Draft copy", Status: model.StatusPublish,
	}, nil, nil)
	pendingID, err := a.plugin.Store.Create(ctx, auth.System, origID)
	require.NoError(t, err)
	a.close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", opts.EnvFile, "list", "--json"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"original_title": "Draft copy"`)

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", opts.EnvFile, "fire", itoa(pendingID)})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "published into document "+itoa(origID))

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", opts.EnvFile, "sweep"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "fired 0, failed 0, skipped 0\n", out.String())
}

func TestUninstallCommand(t *testing.T) {
	testEnv(t)
	ctx := context.Background()
	opts := &rootOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")}

	a, err := setup(ctx, opts)
	require.NoError(t, err)
	origID := testutil.CreateDocument(t, a.plugin.Documents, model.Document{
		Type: model.TypePost, Title: "Keep me", Status: model.StatusPublish,
	}, nil, nil)
	pendingID, err := a.plugin.Store.Create(ctx, auth.System, origID)
	require.NoError(t, err)
	a.close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--env-file", opts.EnvFile, "uninstall", "--yes"})
	require.NoError(t, cmd.Execute())

	a, err = setup(ctx, opts)
	require.NoError(t, err)
	defer a.close()
	_, err = a.plugin.Documents.Get(ctx, pendingID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = a.plugin.Documents.Get(ctx, origID)
	assert.NoError(t, err)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
