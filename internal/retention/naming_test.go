package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Classify(t *testing.T) {
	m, err := NewMatcher("zoo.cfg")
	require.NoError(t, err)

	tests := []struct {
		name       string
		file       string
		wantKind   Kind
		wantSerial string
	}{
		{"snapshot", "zoo.cfg.dynamic.100000000", KindSnapshot, "100000000"},
		{"snapshot upper hex", "zoo.cfg.dynamic.1A2b", KindSnapshot, "1A2b"},
		{"archive", "dynamic.3f.zip", KindArchive, "3f"},
		{"archive ignores prefix", "dynamic.0.zip", KindArchive, "0"},
		{"plain config", "zoo.cfg", KindIgnored, ""},
		{"other prefix", "other.cfg.dynamic.10", KindIgnored, ""},
		{"prefix dot is literal", "zooXcfg.dynamic.10", KindIgnored, ""},
		{"non hex serial", "zoo.cfg.dynamic.xyz", KindIgnored, ""},
		{"trailing suffix", "zoo.cfg.dynamic.10.bak", KindIgnored, ""},
		{"archive wrong ext", "dynamic.10.tar", KindIgnored, ""},
		{"temporary archive", ".dynamic.10.zip.123.tmp", KindIgnored, ""},
		{"empty serial", "zoo.cfg.dynamic.", KindIgnored, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, serial := m.Classify(tt.file)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantSerial, serial)
		})
	}
}

func TestMatcher_EmptyPrefix(t *testing.T) {
	m, err := NewMatcher("")
	require.NoError(t, err)

	kind, serial := m.Classify("anything.dynamic.ff")
	assert.Equal(t, KindSnapshot, kind)
	assert.Equal(t, "ff", serial)

	kind, _ = m.Classify(".dynamic.ff")
	assert.Equal(t, KindIgnored, kind)
}

func TestMatcher_PrefixWithMetacharacters(t *testing.T) {
	m, err := NewMatcher("a+b(1)")
	require.NoError(t, err)

	kind, _ := m.Classify("a+b(1).dynamic.1")
	assert.Equal(t, KindSnapshot, kind)

	kind, _ = m.Classify("aab1.dynamic.1")
	assert.Equal(t, KindIgnored, kind)
}

func TestParseSerial(t *testing.T) {
	key, err := ParseSerial("ff")
	require.NoError(t, err)
	assert.Equal(t, uint64(255), key)

	key, err = ParseSerial("00000010")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), key)

	_, err = ParseSerial("1ffffffffffffffff")
	assert.Error(t, err)
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "dynamic.1.zip", ArchiveName("1"))
	assert.Equal(t, "dynamic.0A.zip", ArchiveName("0A"))
}

func TestSortByKey_NumericNotLexical(t *testing.T) {
	entries := []Entry{
		{Name: "a", Key: 0x10},
		{Name: "b", Key: 0x9},
		{Name: "c", Key: 0x100},
		{Name: "d", Key: 0x9},
	}
	sortByKey(entries)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, names)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "snapshot", KindSnapshot.String())
	assert.Equal(t, "archive", KindArchive.String())
	assert.Equal(t, "ignored", KindIgnored.String())
}
