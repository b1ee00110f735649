package bso

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlowFileName(t *testing.T) {
	flavor, hex, kind, err := ParseFlowFileName("i00020003.flo")
	require.NoError(t, err)
	assert.Equal(t, FlavorImmediate, flavor)
	assert.Equal(t, "00020003", hex)
	assert.Equal(t, KindReference, kind)

	flavor, hex, kind, err = ParseFlowFileName("00020003.out")
	require.NoError(t, err)
	assert.Equal(t, FlavorNormal, flavor)
	assert.Equal(t, KindNetmail, kind)

	_, _, _, err = ParseFlowFileName("notaflow.txt")
	assert.Error(t, err)
}

func TestParseReferenceFileDirectives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00020003.flo")
	content := "/mail/file1.pkt\n#/mail/file2.pkt\n^/mail/file3.pkt\n~/mail/file4.pkt\n@/mail/file5.pkt\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := ParseReferenceFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, FlowEntry{Path: "/mail/file1.pkt", Directive: DirectiveSend}, entries[0])
	assert.Equal(t, FlowEntry{Path: "/mail/file2.pkt", Directive: DirectiveTruncate}, entries[1])
	assert.Equal(t, FlowEntry{Path: "/mail/file3.pkt", Directive: DirectiveDelete}, entries[2])
	assert.Equal(t, FlowEntry{Path: "/mail/file4.pkt", Directive: DirectiveSkip}, entries[3])
	assert.Equal(t, FlowEntry{Path: "/mail/file5.pkt", Directive: DirectiveSend}, entries[4])
}

func TestSortFlowsOrdersByPriorityThenMtime(t *testing.T) {
	now := time.Now()
	flows := []*FlowFile{
		{Flavor: FlavorHold, ModTime: now.Unix()},
		{Flavor: FlavorNormal, ModTime: now.Unix() - 10},
		{Flavor: FlavorImmediate, ModTime: now.Unix() - 5},
		{Flavor: FlavorContinuous, ModTime: now.Unix()},
		{Flavor: FlavorDirect, ModTime: now.Unix()},
		{Flavor: FlavorNormal, ModTime: now.Unix() - 20},
	}
	SortFlows(flows)
	var got []Flavor
	for _, f := range flows {
		got = append(got, f.Flavor)
	}
	assert.Equal(t, []Flavor{
		FlavorImmediate, FlavorContinuous, FlavorDirect, FlavorNormal, FlavorNormal, FlavorHold,
	}, got)
	// The two normal-flavor flows must be in mtime order.
	assert.Less(t, flows[3].ModTime, flows[4].ModTime)
}

func TestLoadFlowFileNetmail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00020003.out")
	require.NoError(t, os.WriteFile(path, []byte("netmail packet bytes"), 0o644))

	ff, err := LoadFlowFile(path, 2, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, KindNetmail, ff.Kind)
	require.Len(t, ff.Entries, 1)
	assert.Equal(t, path, ff.Entries[0].Path)
	assert.Equal(t, DirectiveSend, ff.Entries[0].Directive)
}
