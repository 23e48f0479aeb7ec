package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAuthorizedKeys(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr string
	}{
		{name: "single key", data: testKey, want: 1},
		{name: "comments and blanks", data: "# ops team\n\n" + testKey + "\n" + testKey, want: 2},
		{name: "empty", data: "", wantErr: "no SSH public keys found"},
		{name: "only comments", data: "# nothing here\n", wantErr: "no SSH public keys found"},
		{name: "html error page", data: "<html><body>404</body></html>\n", wantErr: "line 1: invalid SSH public key"},
		{name: "bad second line", data: testKey + "ssh-rsa notbase64\n", wantErr: "line 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ValidateAuthorizedKeys([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestValidateKeyFile_Missing(t *testing.T) {
	_, err := validateKeyFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read key file")
}

func TestValidateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "internal_servers")
	require.NoError(t, os.WriteFile(path, []byte(testKey), 0o600))

	n, err := validateKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
