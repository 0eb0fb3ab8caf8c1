package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arcstatsFixture = `13 1 0x01 123 33456 5678901234 9876543210987
name                            type data
hits                            4    900
misses                          4    100
size                            4    536870912
c_max                           4    4294967296
mru_size                        4    134217728
mfu_size                        4    268435456
l2_hits                         4    50
l2_misses                       4    10
l2_size                         4    1073741824
memory_throttle_count           4    0
bogus_line_without_value
`

func TestParseArcStats(t *testing.T) {
	stats := ParseArcStats(arcstatsFixture)

	assert.Equal(t, int64(536870912), stats.Size)
	assert.Equal(t, int64(4294967296), stats.MaxSize)
	assert.Equal(t, int64(134217728), stats.MRUSize)
	assert.Equal(t, int64(268435456), stats.MFUSize)
	assert.Equal(t, int64(1073741824), stats.L2Size)
	assert.Equal(t, int64(50), stats.L2Hits)
	assert.InDelta(t, 90.0, stats.HitRate, 0.001)
	assert.InDelta(t, 10.0, stats.MissRate, 0.001)
	assert.Equal(t, int64(0), stats.Raw["memory_throttle_count"])
	assert.NotContains(t, stats.Raw, "bogus_line_without_value")
}

func TestParseArcStatsNoTraffic(t *testing.T) {
	stats := ParseArcStats("header\nname type data\nsize 4 1024\n")
	assert.Equal(t, int64(1024), stats.Size)
	assert.Zero(t, stats.HitRate)
	assert.Zero(t, stats.MissRate)
}

const membershipFixture = `  pool: tank
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	tank        ONLINE       0     0     0
	  mirror-0  ONLINE       0     0     0
	    /dev/sda1  ONLINE       0     0     0
	    /dev/sdb1  ONLINE       0     0     0

  pool: backup
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	backup      ONLINE       0     0     0
	  /dev/sdc  ONLINE       0     0     0
`

func TestParsePoolMembership(t *testing.T) {
	members := ParsePoolMembership(membershipFixture)

	require.Len(t, members, 3)
	assert.Equal(t, "tank", members["/dev/sda1"])
	assert.Equal(t, "tank", members["/dev/sdb1"])
	assert.Equal(t, "backup", members["/dev/sdc"])
}

func TestParsePoolMembershipEmpty(t *testing.T) {
	assert.Empty(t, ParsePoolMembership(""))
	assert.Empty(t, ParsePoolMembership("no pools available\n"))
}
