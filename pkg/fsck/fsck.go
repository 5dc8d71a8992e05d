package fsck

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// Report maps a data node identity (its IP as printed by the oracle) to the
// block files it holds for the inspected path.
type Report map[string][]string

// Merge folds another report into r, used when a job's payload directory
// holds more than one file.
func (r Report) Merge(other Report) {
	for node, blocks := range other {
		r[node] = append(r[node], blocks...)
	}
}

// DataNodes returns the participating node identities in sorted order.
func (r Report) DataNodes() []string {
	nodes := make([]string, 0, len(r))
	for n := range r {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// Runner produces the block-location report for a DFS path as a stream of
// lines. The stream is lazy, finite, and consumed exactly once; Close must
// be called whether or not parsing succeeds.
type Runner interface {
	Run(target string) (io.ReadCloser, error)
}

// CommandRunner shells out to the DFS fsck tool, the stock block-location
// oracle for HDFS-class filesystems.
type CommandRunner struct{}

func (CommandRunner) Run(target string) (io.ReadCloser, error) {
	cmd := exec.Command("hdfs", "fsck", target, "-files", "-blocks", "-locations")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe fsck output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start fsck for %s: %w", target, err)
	}
	return &cmdStream{ReadCloser: stdout, cmd: cmd}, nil
}

type cmdStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *cmdStream) Close() error {
	s.ReadCloser.Close()
	return s.cmd.Wait()
}

var datanodeRe = regexp.MustCompile(`DatanodeInfoWithStorage\[(.*?)\]`)

// Parse extracts per-block replica placement from an fsck report. Block
// lines start with a digit:
//
//	0. BP-929597290-10.0.0.10-1443...:blk_1073839025_99201 len=1060 repl=3 [DatanodeInfoWithStorage[10.0.0.1:1019,DS-5d1a...,DISK], ...]
//
// The block ID is the token between the colon and the first space with its
// trailing _generation stripped; each DatanodeInfoWithStorage entry yields
// the replica's IP. All other lines (summary header, under-replication
// notices, trailing status) are skipped silently.
func Parse(r io.Reader) (Report, error) {
	report := make(Report)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}

		head, rest, found := strings.Cut(line, "[")
		if !found {
			continue
		}

		blockID, ok := parseBlockID(head)
		if !ok {
			continue
		}

		for _, m := range datanodeRe.FindAllStringSubmatch(rest, -1) {
			ip, _, _ := strings.Cut(m[1], ":")
			if ip == "" {
				continue
			}
			report[ip] = append(report[ip], blockID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fsck output: %w", err)
	}
	return report, nil
}

// parseBlockID pulls "blk_1073839025" out of "0. BP-...:blk_1073839025_99201 len=...".
func parseBlockID(head string) (string, bool) {
	_, after, found := strings.Cut(head, ":")
	if !found {
		return "", false
	}
	token, _, found := strings.Cut(after, " ")
	if !found {
		return "", false
	}
	i := strings.LastIndex(token, "_")
	if i <= 0 {
		return "", false
	}
	return token[:i], true
}
