package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keystone-robotics/provenance/internal/hardware"
	"github.com/keystone-robotics/provenance/internal/merkle"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var serverURL string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "provctl",
	Short: "Provenance ledger CLI",
	Long: `provctl is operator-side tooling for the provenance ledger.

It builds Merkle commitments over attestation sets, produces hardware
signatures for submissions, and queries a running provd instance.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("PROVCTL")
		viper.AutomaticEnv()
		if serverURL == "" {
			serverURL = viper.GetString("SERVER")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		serverURL = strings.TrimRight(serverURL, "/")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "provd base URL (default http://localhost:8080, env PROVCTL_SERVER)")

	rootCmd.AddCommand(merkleCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── merkle ───────────────────────────────────────────────────────────────────

var merkleCmd = &cobra.Command{
	Use:   "merkle",
	Short: "Build and verify Merkle commitments over attestation leaf hashes",
}

var merkleRootCmd = &cobra.Command{
	Use:   "root <leaves-file>",
	Short: "Compute the Merkle root of a leaf-hash file (one 32-byte hex hash per line)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := treeFromFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("leaves\t%d\nroot\t%s\n", tree.Len(), tree.Root().Hex())
		return nil
	},
}

var merkleProofCmd = &cobra.Command{
	Use:   "proof <leaves-file> <index>",
	Short: "Produce the inclusion proof for the leaf at the given index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := treeFromFile(args[0])
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("index must be an integer: %w", err)
		}
		proof, err := tree.Proof(idx)
		if err != nil {
			return err
		}
		fmt.Printf("root\t%s\n", tree.Root().Hex())
		for _, h := range proof {
			fmt.Println(h.Hex())
		}
		return nil
	},
}

var (
	verifyRoot  string
	verifyLeaf  string
	verifyBatch uint64
)

var merkleVerifyCmd = &cobra.Command{
	Use:   "verify --leaf <hash> (--root <hash> | --batch <id>) [sibling-hash ...]",
	Short: "Check an inclusion proof, locally against a root or remotely against a stored batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		leaf, err := parseHash(verifyLeaf)
		if err != nil {
			return fmt.Errorf("--leaf: %w", err)
		}
		proof := make([]common.Hash, 0, len(args))
		for _, a := range args {
			h, err := parseHash(a)
			if err != nil {
				return fmt.Errorf("proof element %q: %w", a, err)
			}
			proof = append(proof, h)
		}

		var valid bool
		switch {
		case verifyBatch != 0:
			proofHex := make([]string, len(proof))
			for i, p := range proof {
				proofHex[i] = p.Hex()
			}
			resp, err := postJSON("/v1/attestations/verify", map[string]any{
				"batch_id": verifyBatch,
				"leaf":     leaf.Hex(),
				"proof":    proofHex,
			})
			if err != nil {
				return err
			}
			valid, _ = resp["valid"].(bool)
		case verifyRoot != "":
			root, err := parseHash(verifyRoot)
			if err != nil {
				return fmt.Errorf("--root: %w", err)
			}
			valid = merkle.Verify(root, leaf, proof)
		default:
			return fmt.Errorf("one of --root or --batch is required")
		}

		if valid {
			fmt.Println("valid")
			return nil
		}
		fmt.Println("INVALID")
		os.Exit(1)
		return nil
	},
}

func init() {
	merkleVerifyCmd.Flags().StringVar(&verifyRoot, "root", "", "Merkle root (hex) for local verification")
	merkleVerifyCmd.Flags().Uint64Var(&verifyBatch, "batch", 0, "Stored batch id to verify against via the daemon")
	merkleVerifyCmd.Flags().StringVar(&verifyLeaf, "leaf", "", "Leaf hash (hex)")
	_ = merkleVerifyCmd.MarkFlagRequired("leaf")

	merkleCmd.AddCommand(merkleRootCmd)
	merkleCmd.AddCommand(merkleProofCmd)
	merkleCmd.AddCommand(merkleVerifyCmd)
}

// treeFromFile reads one hex leaf hash per line, skipping blanks and
// #-comments.
func treeFromFile(path string) (*merkle.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var leaves []common.Hash
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		h, err := parseHash(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(leaves)+1, err)
		}
		leaves = append(leaves, h)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return merkle.NewTree(leaves)
}

// ── sign ─────────────────────────────────────────────────────────────────────

var (
	signKeyHex  string
	signChainID uint64
	signAgentID uint64
	signNonce   uint64
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Produce hardware signatures for ledger submissions",
	Long: `Sign computes the canonical submission digest and signs it with a
secp256k1 hardware key supplied as hex. Intended for development and test
rigs; production hardware signs inside its secure element.`,
}

var (
	signRoot     string
	signCount    uint64
	signMetadata string
)

var signBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Sign a batch submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(signKeyHex, "0x"))
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		root, err := parseHash(signRoot)
		if err != nil {
			return fmt.Errorf("--root: %w", err)
		}
		meta, err := parseHash(signMetadata)
		if err != nil {
			return fmt.Errorf("--metadata: %w", err)
		}
		digest := hardware.BatchDigest(signChainID, signAgentID, root, signCount, meta, signNonce)
		sig, err := hardware.Sign(digest, key)
		if err != nil {
			return err
		}
		fmt.Printf("signer\t%s\ndigest\t%s\nsignature\t0x%s\n",
			crypto.PubkeyToAddress(key.PublicKey).Hex(), digest.Hex(), hex.EncodeToString(sig))
		return nil
	},
}

var (
	signAction    string
	signLocation  string
	signSensor    string
	signAssurance uint8
)

var signSingleCmd = &cobra.Command{
	Use:   "single",
	Short: "Sign a single attestation submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(signKeyHex, "0x"))
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		action, err := parseHash(signAction)
		if err != nil {
			return fmt.Errorf("--action: %w", err)
		}
		location, err := parseHash(signLocation)
		if err != nil {
			return fmt.Errorf("--location: %w", err)
		}
		sensor, err := parseHash(signSensor)
		if err != nil {
			return fmt.Errorf("--sensor: %w", err)
		}
		digest := hardware.SingleDigest(signChainID, signAgentID, action, location, sensor, signAssurance, signNonce)
		sig, err := hardware.Sign(digest, key)
		if err != nil {
			return err
		}
		fmt.Printf("signer\t%s\ndigest\t%s\nsignature\t0x%s\n",
			crypto.PubkeyToAddress(key.PublicKey).Hex(), digest.Hex(), hex.EncodeToString(sig))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{signBatchCmd, signSingleCmd} {
		c.Flags().StringVar(&signKeyHex, "key", "", "Hardware private key (hex)")
		c.Flags().Uint64Var(&signChainID, "chain-id", 1, "Deployment chain id")
		c.Flags().Uint64Var(&signAgentID, "agent", 0, "Agent id")
		c.Flags().Uint64Var(&signNonce, "nonce", 0, "Submission nonce (current nonce + 1)")
		_ = c.MarkFlagRequired("key")
		_ = c.MarkFlagRequired("agent")
		_ = c.MarkFlagRequired("nonce")
	}

	signBatchCmd.Flags().StringVar(&signRoot, "root", "", "Merkle root (hex)")
	signBatchCmd.Flags().Uint64Var(&signCount, "count", 0, "Attestation count in the batch")
	signBatchCmd.Flags().StringVar(&signMetadata, "metadata", "", "Metadata hash (hex)")
	_ = signBatchCmd.MarkFlagRequired("root")
	_ = signBatchCmd.MarkFlagRequired("count")
	_ = signBatchCmd.MarkFlagRequired("metadata")

	signSingleCmd.Flags().StringVar(&signAction, "action", "", "Action hash (hex)")
	signSingleCmd.Flags().StringVar(&signLocation, "location", "", "Location hash (hex)")
	signSingleCmd.Flags().StringVar(&signSensor, "sensor", "", "Sensor data hash (hex)")
	signSingleCmd.Flags().Uint8Var(&signAssurance, "assurance", 1, "Assurance level (1-5)")
	_ = signSingleCmd.MarkFlagRequired("action")
	_ = signSingleCmd.MarkFlagRequired("location")
	_ = signSingleCmd.MarkFlagRequired("sensor")

	signCmd.AddCommand(signBatchCmd)
	signCmd.AddCommand(signSingleCmd)
}

// ── status / trust ───────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and journal state",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := getJSON("/healthz")
		if err != nil {
			return err
		}
		jstate, err := getJSON("/v1/journal")
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "server\t%s\n", serverURL)
		fmt.Fprintf(w, "status\t%v\n", health["status"])
		fmt.Fprintf(w, "paused\t%v\n", health["paused"])
		fmt.Fprintf(w, "journal entries\t%v\n", jstate["entries"])
		fmt.Fprintf(w, "journal root\t%v\n", jstate["root"])
		return w.Flush()
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust <agent-id>",
	Short: "Show an agent's trust profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("agent id must be a positive integer: %w", err)
		}
		profile, err := getJSON("/v1/agents/" + args[0] + "/trust")
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the provctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("provctl", version)
	},
}

func getJSON(path string) (map[string]any, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return decodeResponse("GET", path, resp)
}

func postJSON(path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return decodeResponse("POST", path, resp)
}

func decodeResponse(method, path string, resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s %s: unexpected response (status %d)", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		if msg, ok := out["error"].(string); ok {
			return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, msg, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return out, nil
}

func parseHash(s string) (common.Hash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("want %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}
