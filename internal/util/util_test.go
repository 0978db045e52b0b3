package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobRecursiveCrossesSlashes(t *testing.T) {
	keys := []string{"a/b/c.tar", "a/d.tar", "a/b/e.txt"}

	matched, err := Glob(keys, "**/*.tar")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a/b/c.tar", "a/d.tar"}, matched)
}

func TestGlobStarDoesNotCrossSlashes(t *testing.T) {
	keys := []string{"a/b/c.tar", "a/d.tar", "top.tar"}

	matched, err := Glob(keys, "*.tar")
	require.NoError(t, err)
	require.Equal(t, []string{"top.tar"}, matched)

	matched, err = Glob(keys, "a/*.tar")
	require.NoError(t, err)
	require.Equal(t, []string{"a/d.tar"}, matched)
}

func TestGlobQuestionMarkAndClasses(t *testing.T) {
	keys := []string{"f1.txt", "f2.txt", "f12.txt", "g1.txt"}

	matched, err := Glob(keys, "f?.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"f1.txt", "f2.txt"}, matched)

	matched, err = Glob(keys, "[fg]1.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"f1.txt", "g1.txt"}, matched)

	matched, err = Glob(keys, "[!f]1.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"g1.txt"}, matched)
}

func TestGlobDoubleStarMatchesZeroSegments(t *testing.T) {
	matched, err := Glob([]string{"d.tar"}, "**/*.tar")
	require.NoError(t, err)
	require.Equal(t, []string{"d.tar"}, matched)
}

func TestExtractPrefixFromGlob(t *testing.T) {
	require.Equal(t, "data/v1", ExtractPrefixFromGlob("data/v1/*.tar"))
	require.Equal(t, "", ExtractPrefixFromGlob("**/*.tar"))
	require.Equal(t, "data", ExtractPrefixFromGlob("data/**/part-?.json"))
	require.Equal(t, "a/b/c", ExtractPrefixFromGlob("a/b/c"))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MSC_TEST_BUCKET", "mybucket")

	tree := map[string]any{
		"plain":  "value",
		"braced": "${MSC_TEST_BUCKET}/data",
		"bare":   "$MSC_TEST_BUCKET",
		"nested": map[string]any{
			"list": []any{"$MSC_TEST_BUCKET", 42},
		},
		"unresolved": "${MSC_TEST_UNSET_VAR}",
	}

	expanded := ExpandEnvVars(tree).(map[string]any)
	require.Equal(t, "value", expanded["plain"])
	require.Equal(t, "mybucket/data", expanded["braced"])
	require.Equal(t, "mybucket", expanded["bare"])
	require.Equal(t, "mybucket", expanded["nested"].(map[string]any)["list"].([]any)[0])
	// Unresolved references stay literal.
	require.Equal(t, "${MSC_TEST_UNSET_VAR}", expanded["unresolved"])
}

func TestSplitAndJoinPaths(t *testing.T) {
	bucket, key := SplitPath("bucket/a/b")
	require.Equal(t, "bucket", bucket)
	require.Equal(t, "a/b", key)

	bucket, key = SplitPath("bucket")
	require.Equal(t, "bucket", bucket)
	require.Equal(t, "", key)

	require.Equal(t, "a/b", JoinPaths("a/", "/b"))
	require.Equal(t, "b", JoinPaths("", "b"))
	require.Equal(t, "a", JoinPaths("a", ""))
}
