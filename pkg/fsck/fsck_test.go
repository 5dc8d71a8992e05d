package fsck

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `Connecting to namenode via http://nn1.example.com:50070/fsck?ugi=hdfs&files=1&blocks=1&locations=1&path=%2Fu%2Falice%2Fx
FSCK started by hdfs (auth:SIMPLE) from /10.0.0.10 for path /u/alice/x at Tue Aug 25 10:14:13 UTC 2026
/u/alice/x 3183 bytes, 2 block(s):  OK
0. BP-929597290-10.0.0.10-1443533816510:blk_1073839025_99201 len=1060 repl=3 [DatanodeInfoWithStorage[10.0.0.1:1019,DS-5d1a7f6e-5e8e-44a7-a5a9-0c9f72c8d761,DISK], DatanodeInfoWithStorage[10.0.0.2:1019,DS-a0c19f44-7a4f-4b9a-bf0a-210a17f9bd2a,DISK], DatanodeInfoWithStorage[10.0.0.3:1019,DS-7b2d4f6a-9d8e-4c5b-8f3a-1e2d3c4b5a69,DISK]]
1. BP-929597290-10.0.0.10-1443533816510:blk_1073839026_99202 len=2123 repl=3 [DatanodeInfoWithStorage[10.0.0.2:1019,DS-a0c19f44-7a4f-4b9a-bf0a-210a17f9bd2a,DISK], DatanodeInfoWithStorage[10.0.0.3:1019,DS-7b2d4f6a-9d8e-4c5b-8f3a-1e2d3c4b5a69,DISK], DatanodeInfoWithStorage[10.0.0.4:1019,DS-90ddea12-22fa-43fc-bcf8-1e8f3f0a2c31,DISK]]

Status: HEALTHY
 Total size:	3183 B
 Total blocks (validated):	2 (avg. block size 1591 B)
 Minimally replicated blocks:	2 (100.0 %)
The filesystem under path '/u/alice/x' is HEALTHY
`

func TestParse(t *testing.T) {
	report, err := Parse(strings.NewReader(sampleReport))
	require.NoError(t, err)

	assert.Equal(t, Report{
		"10.0.0.1": {"blk_1073839025"},
		"10.0.0.2": {"blk_1073839025", "blk_1073839026"},
		"10.0.0.3": {"blk_1073839025", "blk_1073839026"},
		"10.0.0.4": {"blk_1073839026"},
	}, report)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, report.DataNodes())
}

func TestParseSingleBlockSingleNode(t *testing.T) {
	line := "0. BP-1-10.0.0.10-1:blk_100_7 len=10 repl=1 [DatanodeInfoWithStorage[10.0.0.1:1019,DS-x,DISK]]\n"

	report, err := Parse(strings.NewReader(line))
	require.NoError(t, err)
	assert.Equal(t, Report{"10.0.0.1": {"blk_100"}}, report)
}

func TestParseToleratesWhitespaceAndNoise(t *testing.T) {
	input := "   \n" +
		"  0. BP-1-10.0.0.10-1:blk_200_9 len=10 repl=1 [DatanodeInfoWithStorage[10.0.0.9:1019,DS-y,DISK]]  \n" +
		"Status: HEALTHY\n" +
		" Total size: 10 B\n"

	report, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Report{"10.0.0.9": {"blk_200"}}, report)
}

func TestParseEmptyReport(t *testing.T) {
	report, err := Parse(strings.NewReader("Status: HEALTHY\n"))
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestMerge(t *testing.T) {
	a := Report{"10.0.0.1": {"blk_1"}}
	b := Report{
		"10.0.0.1": {"blk_2"},
		"10.0.0.2": {"blk_2"},
	}
	a.Merge(b)

	assert.Equal(t, Report{
		"10.0.0.1": {"blk_1", "blk_2"},
		"10.0.0.2": {"blk_2"},
	}, a)
}
