package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/footnote/pkg/logger"
	"github.com/carverauto/footnote/pkg/vault"
)

// runCLI executes args through Run and decodes the resulting single JSON
// object, failing the test on any error.
func runCLI(t *testing.T, args ...string) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Run(context.Background(), args, &buf))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	return out
}

func TestRunRejectsMalformedInvocations(t *testing.T) {
	var buf bytes.Buffer

	err := Run(context.Background(), []string{"vault"}, &buf)
	require.ErrorIs(t, err, ErrUsage)

	err = Run(context.Background(), []string{"orchard", "grow"}, &buf)
	require.ErrorIs(t, err, ErrUsage)

	err = Run(context.Background(), []string{"vault", "levitate"}, &buf)
	require.ErrorIs(t, err, ErrUsage)
}

func TestRunVersionIsAStandaloneTopLevelCommand(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Run(context.Background(), []string{"version"}, &buf))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.NotEmpty(t, out["version"])
	require.NotEmpty(t, out["build_id"])
}

func TestVaultCreatePrimaryThenDoctorFindsNothing(t *testing.T) {
	root := t.TempDir()

	created := runCLI(t, "vault", "create-primary", "-root", root, "-username", "alice", "-device", "desktop")
	require.Equal(t, "primary", created["state"])
	require.Equal(t, root, created["root"])

	_ = runCLI(t, "note", "create", "-root", root, "-path", "hello.md", "-body", "hello there")

	doctored := runCLI(t, "vault", "doctor", "-root", root)
	require.Equal(t, false, doctored["fixed"])
	require.Empty(t, doctored["duplicate_uuid"])
}

func TestNoteLifecycleCreateUpdateDelete(t *testing.T) {
	root := t.TempDir()

	_ = runCLI(t, "vault", "create-standalone", "-root", root, "-device", "desktop")

	created := runCLI(t, "note", "create", "-root", root, "-path", "journal.md",
		"-body", "first entry", "-share-with", "bob, carol")
	require.Equal(t, "journal.md", created["path"])
	require.ElementsMatch(t, []interface{}{"bob", "carol"}, created["share_with"])

	updated := runCLI(t, "note", "update", "-root", root, "-path", "journal.md", "-body", "revised entry")
	require.Equal(t, created["uuid"], updated["uuid"])
	require.NotEqual(t, created["modified"], updated["modified"])

	deleted := runCLI(t, "note", "delete", "-root", root, "-path", "journal.md")
	require.Equal(t, created["uuid"], deleted["uuid"])

	_, err := os.Stat(filepath.Join(root, "journal.md"))
	require.True(t, os.IsNotExist(err))

	var buf bytes.Buffer
	runErr := Run(context.Background(), []string{"note", "update", "-root", root, "-path", "journal.md", "-body", "x"}, &buf)
	require.Error(t, runErr)
}

func TestResolveDialTargetShareWithoutNicknameIsUsageError(t *testing.T) {
	root := t.TempDir()

	v, err := vault.Open(root, logger.NewTestLogger())
	require.NoError(t, err)

	_, _, resolveErr := resolveDialTarget(v, "share", "", "")
	require.ErrorIs(t, resolveErr, ErrUsage)
}

func TestContactExportImportRead(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()

	_ = runCLI(t, "vault", "create-primary", "-root", rootA, "-username", "alice", "-device", "desktop")
	_ = runCLI(t, "vault", "create-primary", "-root", rootB, "-username", "bob", "-device", "phone")

	var exported bytes.Buffer
	require.NoError(t, Run(context.Background(), []string{"contact", "export", "-root", rootA}, &exported))

	contactFile := filepath.Join(rootB, "alice-contact.json")
	require.NoError(t, os.WriteFile(contactFile, exported.Bytes(), 0o600))

	imported := runCLI(t, "contact", "import", "-root", rootB, "-nickname", "alice", "-file", contactFile)
	require.Equal(t, "alice", imported["nickname"])
	require.Equal(t, "alice", imported["username"])

	read := runCLI(t, "contact", "read", "-root", rootB, "-nickname", "alice")
	require.Equal(t, "alice", read["username"])

	all := runCLI(t, "contact", "read", "-root", rootB)
	contacts, ok := all["contacts"].([]interface{})
	require.True(t, ok)
	require.Len(t, contacts, 1)
}

func TestServiceJoinListenAndJoin(t *testing.T) {
	urlCh := make(chan string, 1)
	prior := announceListening
	announceListening = func(url string) { urlCh <- url }
	defer func() { announceListening = prior }()

	rootPrimary := t.TempDir()
	rootSecondary := t.TempDir()

	_ = runCLI(t, "vault", "create-primary", "-root", rootPrimary, "-username", "alice", "-device", "desktop")
	_ = runCLI(t, "vault", "create-standalone", "-root", rootSecondary, "-device", "placeholder")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		wg        sync.WaitGroup
		listenOut bytes.Buffer
		listenErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		listenErr = Run(ctx, []string{"service", "join-listen", "-root", rootSecondary}, &listenOut)
	}()

	var url string
	select {
	case url = <-urlCh:
	case <-ctx.Done():
		t.Fatal("timed out waiting for join-listen to announce its url")
	}

	joined := runCLI(t, "service", "join", "-root", rootPrimary, "-url", url, "-device", "laptop")
	require.Equal(t, "primary", joined["state"])

	wg.Wait()
	require.NoError(t, listenErr)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(listenOut.Bytes(), &result))
	require.Equal(t, "secondary_joined", result["state"])
}

func TestServiceReplicateMirrorsBetweenOwnDevices(t *testing.T) {
	urlCh := make(chan string, 1)
	prior := announceListening
	announceListening = func(url string) { urlCh <- url }
	defer func() { announceListening = prior }()

	rootA := t.TempDir()
	rootB := t.TempDir()

	_ = runCLI(t, "vault", "create-primary", "-root", rootA, "-username", "alice", "-device", "desktop")
	_ = runCLI(t, "vault", "create-standalone", "-root", rootB, "-device", "placeholder")

	joinCtx, joinCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer joinCancel()

	var wg sync.WaitGroup
	var joinListenErr error
	var joinListenOut bytes.Buffer

	wg.Add(1)
	go func() {
		defer wg.Done()
		joinListenErr = Run(joinCtx, []string{"service", "join-listen", "-root", rootB}, &joinListenOut)
	}()

	var pairURL string
	select {
	case pairURL = <-urlCh:
	case <-joinCtx.Done():
		t.Fatal("timed out waiting for join-listen to announce its url")
	}

	_ = runCLI(t, "service", "join", "-root", rootA, "-url", pairURL, "-device", "laptop")
	wg.Wait()
	require.NoError(t, joinListenErr)

	var joinResult map[string]interface{}
	require.NoError(t, json.Unmarshal(joinListenOut.Bytes(), &joinResult))

	device, ok := joinResult["device"].(map[string]interface{})
	require.True(t, ok)
	laptopEndpointID, ok := device["endpoint_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, laptopEndpointID)

	_ = runCLI(t, "note", "create", "-root", rootA, "-path", "shared.md", "-body", "synced from desktop")

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer syncCancel()

	var listenWg sync.WaitGroup
	var syncListenErr error
	var syncListenOut bytes.Buffer

	listenWg.Add(1)
	go func() {
		defer listenWg.Done()
		syncListenErr = Run(syncCtx, []string{"service", "replicate-listen", "-root", rootB}, &syncListenOut)
	}()

	// localnet.Dial fails immediately if the listener has not registered
	// yet, so retry the dial until replicate-listen has bound its endpoint.
	require.Eventually(t, func() bool {
		var buf bytes.Buffer
		return Run(context.Background(), []string{"service", "replicate", "-root", rootA, "-to", laptopEndpointID}, &buf) == nil
	}, 2*time.Second, 10*time.Millisecond)

	// replicate-listen now serves an accept loop rather than exiting after
	// its first session, so it only stops once its context is cancelled.
	syncCancel()
	listenWg.Wait()
	require.NoError(t, syncListenErr)

	mirrored, err := os.ReadFile(filepath.Join(rootB, "shared.md"))
	require.NoError(t, err)
	require.Contains(t, string(mirrored), "synced from desktop")
}
