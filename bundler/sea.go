package bundler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/internal/extool"
	"gitlab.com/tozd/go/errors"
)

// NodeSEAFuse is the fuse sentinel compiled into Node.js binaries supporting single executable applications.
const NodeSEAFuse = "NODE_SEA_FUSE_fce680ab2cc467b6e072b8b5df1996b2"

// NodeSEAResource is the resource name node looks up for the SEA blob.
const NodeSEAResource = "NODE_SEA_BLOB"

// NodeSEA turns bundled code into a Node.js single executable application blob,
// using "node --experimental-sea-config".
type NodeSEA struct {
	Node    string // path of the node executable, "node" if empty
	Timeout time.Duration
	Logger  hclog.Logger
}

type seaConfig struct {
	Main                          string `json:"main"`
	Output                        string `json:"output"`
	DisableExperimentalSEAWarning bool   `json:"disableExperimentalSEAWarning"`
}

// Blob returns the SEA blob for the given code.
// Intermediate files are created within a temporary directory and removed afterwards.
func (n *NodeSEA) Blob(ctx context.Context, code []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "exeup-sea-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	cfg := seaConfig{
		Main:                          filepath.Join(dir, "bundle.js"),
		Output:                        filepath.Join(dir, "sea.blob"),
		DisableExperimentalSEAWarning: true,
	}
	if err := os.WriteFile(cfg.Main, code, 0o600); err != nil {
		return nil, errors.Errorf("write bundle: %w", err)
	}
	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, errors.Errorf("marshal SEA config: %w", err)
	}
	cfgPath := filepath.Join(dir, "sea-config.json")
	if err := os.WriteFile(cfgPath, cfgJSON, 0o600); err != nil {
		return nil, errors.Errorf("write SEA config: %w", err)
	}

	node := n.Node
	if node == "" {
		node = "node"
	}
	if _, err := (extool.Command{
		Name:    node,
		Args:    []string{"--experimental-sea-config", cfgPath},
		Dir:     dir,
		Timeout: n.Timeout,
		Logger:  n.Logger,
	}).Run(ctx); err != nil {
		return nil, errors.Errorf("generate SEA blob: %w", err)
	}

	blob, err := os.ReadFile(cfg.Output)
	if err != nil {
		return nil, errors.Errorf("read SEA blob: %w", err)
	}
	return blob, nil
}
