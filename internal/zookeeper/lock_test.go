package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortBySequenceIgnoresProtectionPrefix(t *testing.T) {
	children := []string{
		"_c_f3a9e0d1-lock-0000000003",
		"_c_0b12aa77-lock-0000000005",
		"_c_ffee0011-lock-0000000001",
	}
	sortBySequence(children)
	require.Equal(t, []string{
		"_c_ffee0011-lock-0000000001",
		"_c_f3a9e0d1-lock-0000000003",
		"_c_0b12aa77-lock-0000000005",
	}, children)
}

func TestSequenceOf(t *testing.T) {
	require.Equal(t, "0000000042", sequenceOf("_c_abc-lock-0000000042"))
	require.Equal(t, "plain", sequenceOf("plain"))
}
