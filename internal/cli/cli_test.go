package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/trackhub/pkg/config"
	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/integrations/console"
)

// execute runs the root command against a test configuration and returns
// the console stream and the summary stream.
func execute(t *testing.T, cfgOpts []config.Option, args ...string) (string, string, error) {
	t.Helper()
	opts := &RootOptions{
		load: func(*RootOptions) (*config.Config, error) {
			return config.New(append([]config.Option{config.WithTestDefaults()}, cfgOpts...)...)
		},
	}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func consoleLines(t *testing.T, out string) []console.Line {
	t.Helper()
	var lines []console.Line
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var l console.Line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	return lines
}

func TestTrackCommand(t *testing.T) {
	out, summary, err := execute(t, nil, "track", "Signed Up", "--properties", `{"plan":"pro"}`)
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, "track", string(lines[0].Method))
	assert.Equal(t, "Signed Up", lines[0].Message.Event)
	assert.Equal(t, "pro", lines[0].Message.Properties["plan"])

	assert.Contains(t, summary, "track "+lines[0].Message.MessageID)
	assert.Contains(t, summary, "delivered: Console")
}

func TestTrackCommandJSONSummary(t *testing.T) {
	out, summary, err := execute(t, nil, "--format", "json", "track", "Clicked")
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 1)

	var s map[string]any
	require.NoError(t, json.Unmarshal([]byte(summary), &s))
	assert.Equal(t, lines[0].Message.MessageID, s["message_id"])
	assert.Equal(t, "track", s["type"])
	assert.Equal(t, []any{"Console"}, s["delivered"])
}

func TestTrackingPlanDisablesConsole(t *testing.T) {
	disabled := false
	plan := config.Plan{Track: map[string]config.EventPlan{
		"Hidden": {Enabled: &disabled},
	}}
	out, summary, err := execute(t, []config.Option{config.WithPlan(plan)}, "track", "Hidden")
	require.NoError(t, err)
	assert.Empty(t, consoleLines(t, out))
	assert.Contains(t, summary, "disabled: Console")
}

func TestIdentifyCommand(t *testing.T) {
	out, _, err := execute(t, nil, "identify", "42", "--traits", `{"email":"ada@example.com"}`)
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, "identify", string(lines[0].Method))
	assert.Equal(t, "42", lines[0].Message.UserID)
	assert.Equal(t, "ada@example.com", lines[0].Message.Traits["email"])
}

func TestGroupCommand(t *testing.T) {
	out, _, err := execute(t, nil, "group", "acme", "--traits", `{"seats":3}`)
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, "group", string(lines[0].Method))
	assert.Equal(t, "acme", lines[0].Message.GroupID)
	assert.EqualValues(t, 3, lines[0].Message.Traits["seats"])
}

func TestPageCommand(t *testing.T) {
	cfgOpts := []config.Option{config.WithPageDefaults("https://example.com/docs?x=1", "Docs", "")}
	out, _, err := execute(t, cfgOpts, "page", "Docs", "Intro")
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 1)
	msg := lines[0].Message
	assert.Equal(t, "page", string(lines[0].Method))
	assert.Equal(t, "Docs", msg.Category)
	assert.Equal(t, "Intro", msg.Name)
	assert.Equal(t, "/docs", msg.Properties["path"])
	assert.Equal(t, "Intro", msg.Properties["name"])
	assert.Equal(t, "Docs", msg.Properties["category"])
}

func TestAliasCommand(t *testing.T) {
	out, _, err := execute(t, nil, "alias", "new-id", "old-id")
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, "alias", string(lines[0].Method))
	assert.Equal(t, "new-id", lines[0].Message.UserID)
	assert.Equal(t, "old-id", lines[0].Message.PreviousID)
}

func TestBootstrapCommand(t *testing.T) {
	out, summary, err := execute(t, nil, "bootstrap", "?ajs_uid=7&ajs_trait_plan=pro&ajs_event=Landed&ajs_aid=anon-1")
	require.NoError(t, err)

	lines := consoleLines(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, "identify", string(lines[0].Method))
	assert.Equal(t, "pro", lines[0].Message.Traits["plan"])
	assert.Equal(t, "track", string(lines[1].Method))
	assert.Equal(t, "Landed", lines[1].Message.Event)
	assert.Contains(t, summary, "anonymous id: anon-1")
}

func TestIntegrationsCommand(t *testing.T) {
	out, _, err := execute(t, nil, "--format", "json", "integrations")
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, console.Name, records[0]["name"])
	assert.Equal(t, "ready", records[0]["state"])

	out, _, err = execute(t, nil, "integrations")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, console.Name)
}

func TestInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad format", []string{"--format", "xml", "track", "x"}, "invalid format"},
		{"bad properties", []string{"track", "x", "--properties", "{"}, "invalid --properties JSON"},
		{"bad traits", []string{"identify", "1", "--traits", "[]"}, "invalid --traits JSON"},
		{"missing event", []string{"track"}, "accepts 1 arg"},
		{"too many page args", []string{"page", "a", "b", "c"}, "accepts at most 2 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPayloadFlagsReturnCodedErrors(t *testing.T) {
	for _, flag := range []string{"--properties", "--options"} {
		t.Run(flag, func(t *testing.T) {
			_, _, err := execute(t, nil, "track", "x", flag, "not json")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrInvalidArguments))
			assert.Contains(t, err.Error(), "invalid "+flag+" JSON")
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: 0s\nlocal_storage:\n  enabled: false\nlog_level: error\n"), 0o600))

	cfg, err := loadConfig(&RootOptions{ConfigPath: path, Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.LocalStorage.Enabled)
}
