package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/tasklink/pkg/config"
	"github.com/harrisonrobin/tasklink/pkg/index"
	"github.com/harrisonrobin/tasklink/pkg/model"
)

func setHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKLINK_HOME", dir)
	t.Setenv("TASKLINK_CONFIG", "")
	t.Setenv("TASKLINK_TRANSPORT", "")
	t.Setenv("TASKLINK_LINKS_BACKEND", "")
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestParseCommand(t *testing.T) {
	setHome(t)

	out := run(t, "parse", ". Submit report #Work [Launch]")

	var task model.TaskDescriptor
	require.NoError(t, json.Unmarshal([]byte(out), &task))
	assert.Equal(t, "Submit report", task.Title)
	assert.Equal(t, "Launch", task.Project)
	assert.Equal(t, "Work", task.Workspace)
	assert.Nil(t, task.Date)
}

func TestConfigSetList(t *testing.T) {
	setHome(t)

	out := run(t, "config", "set-list", "Inbox")
	assert.Contains(t, out, "Default list set to: Inbox")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "Inbox", cfg.Store.DefaultList)

	assert.Contains(t, run(t, "config", "show"), "default_list: Inbox")
}

func TestLinksCommand(t *testing.T) {
	dir := setHome(t)
	p := index.NewFilePersister(filepath.Join(dir, "links.json"))
	require.NoError(t, p.Save(context.Background(), map[string]string{"wamid.B": "task2", "wamid.A": "task1"}))

	out := run(t, "links")
	assert.Equal(t, "MESSAGE  TASK\nwamid.A  task1\nwamid.B  task2\n", out)
}

func TestOpenPersister(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p, err := openPersister(ctx, config.LinksConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "links.json")})
	require.NoError(t, err)
	assert.IsType(t, &index.FilePersister{}, p)

	p, err = openPersister(ctx, config.LinksConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "links.db")})
	require.NoError(t, err)
	assert.IsType(t, &index.SQLitePersister{}, p)
	require.NoError(t, p.Close())

	_, err = openPersister(ctx, config.LinksConfig{Backend: "etcd"})
	assert.Error(t, err)
}

type nopRepo struct{}

func (nopRepo) CreateTask(context.Context, model.TaskDescriptor) (string, error) { return "task", nil }
func (nopRepo) UpdateTask(context.Context, string, model.TaskDescriptor) error   { return nil }
func (nopRepo) ArchiveTask(context.Context, string) error                        { return nil }

func TestServeStopsOnCancel(t *testing.T) {
	setHome(t)
	cfg := config.Default()
	cfg.Transport.Owner = "94771234567"
	cfg.Transport.WebhookAddr = "127.0.0.1:0"
	cfg.Metrics.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, nopRepo{}, zerolog.Nop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
