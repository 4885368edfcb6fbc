package dedup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteHosts writes hosts to path, one per line, newline-terminated. The
// file is replaced atomically so readers never see a partial list.
func WriteHosts(path string, hosts []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write hosts: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".unique-hosts-*")
	if err != nil {
		return fmt.Errorf("write hosts: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, h := range hosts {
		if _, err := w.WriteString(h + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write hosts: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write hosts: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write hosts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write hosts: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write hosts: %w", err)
	}
	return nil
}

// ReadHosts reads a newline-delimited host list. Blank lines are skipped.
func ReadHosts(r io.Reader) ([]string, error) {
	var hosts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read hosts: %w", err)
	}
	return hosts, nil
}

// ReadHostsFile opens path and reads it with ReadHosts.
func ReadHostsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read hosts: %w", err)
	}
	defer f.Close()
	return ReadHosts(f)
}
