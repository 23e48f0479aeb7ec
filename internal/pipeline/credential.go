package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ValidateAuthorizedKeys checks that data holds at least one SSH public key
// in authorized_keys format and nothing else besides comments and blank
// lines. It returns the number of keys found.
func ValidateAuthorizedKeys(data []byte) (int, error) {
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(text)); err != nil {
			return 0, fmt.Errorf("line %d: invalid SSH public key: %w", line, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("no SSH public keys found")
	}
	return count, nil
}

// validateKeyFile reads and validates the staged key file.
func validateKeyFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read key file: %w", err)
	}
	return ValidateAuthorizedKeys(data)
}
