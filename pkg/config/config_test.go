package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xx25/binkd-go/binkopt"
)

const sample = `
[mailer]
system_name = Test BBS
sysop = Jane Sysop
listen = :24554
outbound = /var/spool/binkd/out
poll_interval = 1m

[link "2:5020/1042"]
inbound = 198.51.100.7:24554
password = hunter2
cram = md5
crc = supported
accept = 2:5020/1042, 2:5020/1042.1
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "binkd.ini")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoadParsesMailerAndLinks(t *testing.T) {
	path := writeSample(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Test BBS", cfg.Mailer.SystemName)
	assert.Equal(t, "/var/spool/binkd/out", cfg.Mailer.OutboundBase)

	require.Len(t, cfg.Links, 1)
	link := cfg.Links[0]
	assert.Equal(t, "hunter2", link.Password)
	assert.Equal(t, binkopt.ModeSupported, link.CRC)
	assert.Equal(t, binkopt.ModeNone, link.PLZ)
	require.Len(t, link.AcceptSet, 2)
	assert.Equal(t, []string{"2:5020/1042"}[0], link.AcceptSet[0].String())
}

func TestCRAMAlgorithmsMode(t *testing.T) {
	assert.Equal(t, 1, len(Link{CRAMMode: "md5"}.CRAMAlgorithms()))
	assert.Equal(t, 2, len(Link{CRAMMode: "auto"}.CRAMAlgorithms()))
	assert.Nil(t, Link{CRAMMode: "off"}.CRAMAlgorithms())
}

func TestMissingOutboundRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ini")
	require.NoError(t, os.WriteFile(path, []byte("[mailer]\nsystem_name=x\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
