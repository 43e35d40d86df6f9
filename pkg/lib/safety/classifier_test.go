package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antler-hat/devolume/pkg/lib"
)

func TestClassify_KnownNames(t *testing.T) {
	c := Default()

	tests := []struct {
		name     string
		want     lib.Safety
		category string
	}{
		{"mdworker_shared", lib.SafetySafe, "Spotlight indexing"},
		{"windowserver", lib.SafetyUnsafe, "Window manager"},
		{"WindowServer", lib.SafetyUnsafe, "Window manager"},
		{"Finder", lib.SafetyUnsafe, "Finder"},
		{"Dropbox", lib.SafetySafe, "Cloud sync client"},
		{"rsync", lib.SafetyUnsafe, "File transfer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safety, d := c.Classify(tt.name)
			assert.Equal(t, tt.want, safety)
			require.NotNil(t, d)
			assert.Equal(t, tt.category, d.Category)
		})
	}
}

func TestClassify_Unknown(t *testing.T) {
	safety, d := Default().Classify("randomtool123")
	assert.Equal(t, lib.SafetyUnknown, safety)
	assert.Nil(t, d)

	safety, d = Default().Classify("")
	assert.Equal(t, lib.SafetyUnknown, safety)
	assert.Nil(t, d)
}

func TestClassify_TruncatedNames(t *testing.T) {
	c := Default()

	// lsof truncates command names; the observed name is a prefix of the alias
	safety, d := c.Classify("QuickLookUIS")
	assert.Equal(t, lib.SafetySafe, safety)
	require.NotNil(t, d)
	assert.Equal(t, "Quick Look service", d.Category)

	// suffixed name; the alias is a prefix of the observed name
	safety, d = c.Classify("backupd-helper")
	assert.Equal(t, lib.SafetyUnsafe, safety)
	require.NotNil(t, d)
	assert.Equal(t, "Time Machine backup", d.Category)
}

func TestClassify_ExactBeatsEarlierPrefix(t *testing.T) {
	c := New([]lib.ProcessDescriptor{
		{Names: []string{"md"}, Category: "first", Safety: lib.SafetyUnsafe},
		{Names: []string{"mdworker"}, Category: "second", Safety: lib.SafetySafe},
	})

	safety, d := c.Classify("mdworker")
	assert.Equal(t, lib.SafetySafe, safety)
	assert.Equal(t, "second", d.Category)

	// No exact hit: the first listed prefix match wins
	safety, d = c.Classify("mdworker_shared")
	assert.Equal(t, lib.SafetyUnsafe, safety)
	assert.Equal(t, "first", d.Category)
}

func TestClassify_DuplicateAliasOwnedByFirst(t *testing.T) {
	c := New([]lib.ProcessDescriptor{
		{Names: []string{"Tool"}, Category: "first", Safety: lib.SafetySafe},
		{Names: []string{"tool"}, Category: "second", Safety: lib.SafetyUnsafe},
	})
	safety, d := c.Classify("TOOL")
	assert.Equal(t, lib.SafetySafe, safety)
	assert.Equal(t, "first", d.Category)
}

func TestClassify_ReturnedDescriptorIsACopy(t *testing.T) {
	c := Default()
	_, d := c.Classify("finder")
	require.NotNil(t, d)
	d.Safety = lib.SafetySafe
	d.Names[0] = "mutated"

	safety, again := c.Classify("finder")
	assert.Equal(t, lib.SafetyUnsafe, safety)
	assert.Equal(t, "finder", again.PrimaryName())
}

func TestDescriptors_OrderPreserved(t *testing.T) {
	ds := Default().Descriptors()
	require.Len(t, ds, len(builtinDescriptors))
	assert.Equal(t, "photos", ds[0].PrimaryName())
	assert.Equal(t, "windowserver", ds[len(ds)-1].PrimaryName())
}
