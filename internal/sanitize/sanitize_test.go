package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"New Folder", "New_Folder"},
		{"Q1 Report!!", "Q1_Report"},
		{"  spaced   out  ", "spaced_out"},
		{"a/b\\c:d", "a_b_c_d"},
		{"../../etc/passwd", "etc_passwd"},
		{"..", ""},
		{"...", ""},
		{"<script>", "script"},
		{`"*?[]|{}`, ""},
		{"file.tar.gz", "file_tar_gz"},
		{"multi__under___scores", "multi_under_scores"},
		{"tab\tand\nnewline", "tab_and_newline"},
		{"dash-ok", "dash-ok"},
		{"Ünïcödé ordner", "Ünïcödé_ordner"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.in))
		})
	}
}

func TestNameTruncatesToPrefix(t *testing.T) {
	long := strings.Repeat("abcdefghij", 15)
	got := Name(long)
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(got))
	assert.Equal(t, long[:MaxNameLength], got)

	// Characters, not bytes.
	wide := strings.Repeat("é", 150)
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(Name(wide)))

	// A cut that lands on a separator does not leave it dangling.
	edge := strings.Repeat("a", 99) + " b"
	assert.Equal(t, strings.Repeat("a", 99), Name(edge))
}

var fuzzInputs = []string{
	"Q1 Report!!",
	"../../etc/passwd",
	`C:\Windows\system32`,
	"name.with.many.dots",
	" _ _ leading",
	"trailing _ _ ",
	"<>:\"/\\|?*[]{}",
	strings.Repeat("x ", 80),
	strings.Repeat("é_", 70),
	"emoji 🎉 party",
	"\x00null\x00byte",
}

func TestNameIsIdempotent(t *testing.T) {
	for _, in := range fuzzInputs {
		once := Name(in)
		assert.Equal(t, once, Name(once), "input %q", in)
	}
}

func TestNameNeverContainsForbidden(t *testing.T) {
	for _, in := range fuzzInputs {
		out := Name(in)
		assert.False(t, strings.ContainsAny(out, `/\:"*?[]<>|`), "input %q -> %q", in, out)
		assert.NotContains(t, out, "..")
		assert.LessOrEqual(t, utf8.RuneCountInString(out), MaxNameLength)
	}
}

func TestNameIsDeterministic(t *testing.T) {
	for _, in := range fuzzInputs {
		assert.Equal(t, Name(in), Name(in))
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"report.pdf", "report.pdf", false},
		{"my report.v2.PDF", "my_report_v2.PDF", false},
		{"../../evil.txt", "evil.txt", false},
		{"noext", "noext", false},
		{"photo.", "photo", false},
		{".hidden", "", true},
		{"!!!.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Filename(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrEmptyName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Filename(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestFilenameKeepsExtensionWithinLimit(t *testing.T) {
	got, err := Filename(strings.Repeat("a", 120) + ".jpeg")
	require.NoError(t, err)
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, ".jpeg"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "pdf", Extension("report.PDF"))
	assert.Equal(t, "gz", Extension("a.tar.gz"))
	assert.Equal(t, "", Extension("README"))
	assert.Equal(t, "", Extension("trailing."))
}

func TestSplitExt(t *testing.T) {
	base, ext := SplitExt("report.pdf")
	assert.Equal(t, "report", base)
	assert.Equal(t, "pdf", ext)

	base, ext = SplitExt("folder")
	assert.Equal(t, "folder", base)
	assert.Equal(t, "", ext)
}
