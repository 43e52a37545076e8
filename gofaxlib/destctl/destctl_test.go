package destctl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = Defaults{MaxConcurrentJobs: 1, MaxSendPages: 100, MaxDials: 12, MaxTries: 3}

const testFile = `# destination controls
^49421     MaxConcurrentJobs 2  TimeOfDay "Wk0800-1800"
^1900      RejectNotice "Premium numbers are not allowed"
^44        MaxDials: 4
           Class1ECMSupport no
^4         MaxTries:5 MaxSendPages
           10
^[         MaxDials 1
^33        MaxDials many
`

func TestLookupFirstMatch(t *testing.T) {
	assert := assert.New(t)
	dc := New("", testDefaults)
	dc.Parse(strings.NewReader(testFile))

	i := dc.Lookup("494211234")
	assert.Equal("^49421", i.Pattern())
	assert.Equal(2, i.MaxConcurrentJobs())
	assert.Equal(12, i.MaxDials())
	assert.Equal("Wk0800-1800", i.TimeOfDay().String())

	i = dc.Lookup("19005551234")
	assert.Equal("Premium numbers are not allowed", i.RejectNotice())

	i = dc.Lookup("4420123")
	assert.Equal(4, i.MaxDials())
	assert.Equal([]Arg{{"Class1ECMSupport", "no"}}, i.Args())

	// ^4 comes after ^49421 and ^44
	i = dc.Lookup("4930123")
	assert.Equal("^4", i.Pattern())
	assert.Equal(5, i.MaxTries())
	assert.Equal(10, i.MaxSendPages())
	assert.Equal(1, i.MaxConcurrentJobs())

	// bad records are skipped
	i = dc.Lookup("33123")
	assert.Same(dc.Default(), i)
}

func TestLookupDefault(t *testing.T) {
	assert := assert.New(t)
	dc := New("", testDefaults)
	dc.Parse(strings.NewReader(testFile))

	i := dc.Lookup("8100")
	assert.Same(dc.Default(), i)
	assert.Equal("", i.Pattern())
	assert.Equal(testDefaults.MaxDials, i.MaxDials())
	assert.Equal(testDefaults.MaxTries, i.MaxTries())
	assert.Equal(testDefaults.MaxSendPages, i.MaxSendPages())
	assert.Equal(testDefaults.MaxConcurrentJobs, i.MaxConcurrentJobs())
	assert.Empty(i.RejectNotice())
	assert.Same(AnyTime, i.TimeOfDay())
	assert.Empty(i.Args())
}

func TestReloadOnMtime(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "destctrls")
	dc := New(filename, testDefaults)
	assert.Same(t, dc.Default(), dc.Lookup("123"))

	require.NoError(t, os.WriteFile(filename, []byte("^1 MaxDials 2\n"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filename, past, past))
	assert.Equal(t, 2, dc.Lookup("123").MaxDials())

	// Same mtime: not reread
	require.NoError(t, os.WriteFile(filename, []byte("^1 MaxDials 3\n"), 0644))
	require.NoError(t, os.Chtimes(filename, past, past))
	assert.Equal(t, 2, dc.Lookup("123").MaxDials())

	require.NoError(t, os.Chtimes(filename, time.Now(), time.Now()))
	assert.Equal(t, 3, dc.Lookup("123").MaxDials())
}

func TestTokenize(t *testing.T) {
	tokens, trailing, err := tokenize(`^1  RejectNotice "a \"b\" c" # comment`)
	require.NoError(t, err)
	assert.Equal(t, []string{"^1", "RejectNotice", `a "b" c`}, tokens)
	assert.True(t, trailing)

	tokens, trailing, err = tokenize("^1 MaxDials 2")
	require.NoError(t, err)
	assert.Len(t, tokens, 3)
	assert.False(t, trailing)

	_, trailing, err = tokenize("^1 MaxDials 2\t")
	require.NoError(t, err)
	assert.True(t, trailing)

	_, _, err = tokenize(`^1 RejectNotice "open`)
	assert.Error(t, err)
}

func TestContinuation(t *testing.T) {
	assert := assert.New(t)
	dc := New("", testDefaults)
	dc.Parse(strings.NewReader(
		"^1 MaxDials 2 \n" +
			"MaxTries 7\n" +
			"^2 MaxDials 3 # note\n" +
			"RejectNotice nope\n" +
			"^3 MaxDials 4\n" +
			"^5 MaxTries\n" +
			"^6 MaxDials 5\n" +
			"^7 MaxDials 6 \n" +
			"\n" +
			"^8 MaxDials 8\r\n"))

	i := dc.Lookup("123")
	assert.Equal("^1", i.Pattern())
	assert.Equal(2, i.MaxDials())
	assert.Equal(7, i.MaxTries())

	i = dc.Lookup("234")
	assert.Equal("^2", i.Pattern())
	assert.Equal(3, i.MaxDials())
	assert.Equal("nope", i.RejectNotice())

	// a line ending in neither whitespace nor comment closes the record
	assert.Equal("^3", dc.Lookup("345").Pattern())

	// a malformed record does not take the next one with it
	assert.Same(dc.Default(), dc.Lookup("567"))
	i = dc.Lookup("678")
	assert.Equal("^6", i.Pattern())
	assert.Equal(5, i.MaxDials())

	// blank lines end a record
	assert.Equal(6, dc.Lookup("789").MaxDials())
	assert.Equal(8, dc.Lookup("890").MaxDials())
}

func TestTimeOfDay(t *testing.T) {
	assert := assert.New(t)
	// 2026-10-19 is a Monday
	mon := func(hh, mm int) time.Time {
		return time.Date(2026, 10, 19, hh, mm, 0, 0, time.UTC)
	}

	tod, err := ParseTimeOfDay("Wk0800-1800")
	require.NoError(t, err)
	assert.Equal(mon(9, 30), tod.NextTimeToSend(mon(9, 30)))
	assert.Equal(mon(8, 0), tod.NextTimeToSend(mon(6, 0)))
	assert.Equal(mon(8, 0).AddDate(0, 0, 1), tod.NextTimeToSend(mon(18, 0)))

	// Friday evening waits for Monday
	fri := mon(19, 0).AddDate(0, 0, 4)
	assert.Equal(mon(8, 0).AddDate(0, 0, 7), tod.NextTimeToSend(fri))

	tod, err = ParseTimeOfDay("Sat,Sun 1000-1200")
	require.NoError(t, err)
	assert.Equal(time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC), tod.NextTimeToSend(mon(12, 0)))

	tod, err = ParseTimeOfDay("Any2200-0600")
	require.NoError(t, err)
	assert.Equal(mon(23, 0), tod.NextTimeToSend(mon(23, 0)))
	assert.Equal(mon(5, 0), tod.NextTimeToSend(mon(5, 0)))
	assert.Equal(mon(22, 0), tod.NextTimeToSend(mon(12, 0)))

	tod, err = ParseTimeOfDay("MonTue")
	require.NoError(t, err)
	assert.Equal(mon(13, 0), tod.NextTimeToSend(mon(13, 0)))

	for _, bad := range []string{"Xyz", "Wk08-18", "Wk0800", "Any2500-2600", ""} {
		_, err = ParseTimeOfDay(bad)
		assert.Error(err, bad)
	}
	assert.Equal(mon(3, 0), AnyTime.NextTimeToSend(mon(3, 0)))
}
