// Package syncproto implements the sync wire protocol shared by mirror
// (same device group) and share (cross-user) transfers: a sender opens the
// stream and writes its manifest, then serves whatever file ids the
// receiver requests one at a time; a receiver accepts, diffs the manifest
// against its own view, and pulls exactly the stale or missing entries.
package syncproto

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/carverauto/footnote/pkg/logger"
	"github.com/carverauto/footnote/pkg/manifest"
	"github.com/carverauto/footnote/pkg/syncstatus"
	"github.com/carverauto/footnote/pkg/transport"
	"github.com/carverauto/footnote/pkg/vault"
)

var (
	// ErrUnsolicitedRequest is returned by Send when the receiver requests
	// a uuid absent from the manifest the sender transmitted.
	ErrUnsolicitedRequest = errors.New("syncproto: receiver requested a uuid outside the sent manifest")
	// ErrSelfSync is returned when a sender's own endpoint id matches the
	// remote endpoint id.
	ErrSelfSync = errors.New("syncproto: sync with self")
	// ErrUnauthorizedPeer is returned by Dispatch when the remote endpoint
	// id is neither a trusted contact's device nor one of our own.
	ErrUnauthorizedPeer = errors.New("syncproto: peer is not a recognized device or contact")
)

const (
	maxManifestBytes = 64 << 20
	maxFileBytes     = 512 << 20
	dirPerms         = 0o700
	filePerms        = 0o600
)

var zeroUUID uuid.UUID

func writeManifest(w io.Writer, m manifest.Manifest) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil { //nolint:gosec // manifest sizes never approach uint32 overflow
		return fmt.Errorf("write manifest length: %w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

func readManifest(r io.Reader) (manifest.Manifest, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("read manifest length: %w", err)
	}

	if n > maxManifestBytes {
		return nil, fmt.Errorf("manifest length %d exceeds cap", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest.Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return m, nil
}

func writeUUIDRequest(w io.Writer, id uuid.UUID) error {
	if _, err := w.Write(id[:]); err != nil {
		return fmt.Errorf("write uuid request: %w", err)
	}

	return nil
}

func writeEOF(w io.Writer) error {
	if _, err := w.Write(zeroUUID[:]); err != nil {
		return fmt.Errorf("write eof marker: %w", err)
	}

	return nil
}

// readUUIDRequest reads one 16-byte request. more is false once the
// all-zero EOF marker is read.
func readUUIDRequest(r io.Reader) (id uuid.UUID, more bool, err error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return uuid.UUID{}, false, fmt.Errorf("read uuid request: %w", err)
	}

	id = uuid.UUID(buf)
	if id == zeroUUID {
		return uuid.UUID{}, false, nil
	}

	return id, true, nil
}

func writeFile(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(data))); err != nil {
		return fmt.Errorf("write file length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write file bytes: %w", err)
	}

	return nil
}

func readFile(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("read file length: %w", err)
	}

	if n > maxFileBytes {
		return nil, fmt.Errorf("file length %d exceeds cap", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read file bytes: %w", err)
	}

	return data, nil
}

func publishFile(destRoot, relPath string, data []byte) error {
	finalPath := filepath.Join(destRoot, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(finalPath), dirPerms); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePerms); err != nil {
		return fmt.Errorf("write temporary note: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist note: %w", err)
	}

	return nil
}

// Receive implements the receiver role over an already-accepted stream:
// read the sender's manifest, diff it against destRoot's own view, request
// every stale or missing entry, and publish each one via atomic rename
// under destRoot. A denied entry arrives as a zero-length file body (see
// Send) and is skipped without being published or counted.
func Receive(ctx context.Context, stream transport.Stream, vaultRoot, destRoot string, syncType syncstatus.Type, log logger.Logger) error {
	remoteEndpointID := stream.RemoteEndpointID()
	journal := syncstatus.Open(vaultRoot, remoteEndpointID, syncstatus.Inbound)

	if err := journal.Start(remoteEndpointID, syncType, syncstatus.Inbound); err != nil {
		return err
	}

	remoteManifest, err := readManifest(stream)
	if err != nil {
		_ = journal.RecordFailure(err.Error())
		return err
	}

	localManifest, err := manifest.BuildLocal(destRoot, log)
	if err != nil {
		_ = journal.RecordFailure(err.Error())
		return err
	}

	diff := manifest.Diff(localManifest, remoteManifest)
	total := len(diff)

	if err := journal.Update(0, &total); err != nil {
		_ = journal.RecordFailure(err.Error())
		return err
	}

	transferred := 0

	for _, id := range diff {
		select {
		case <-ctx.Done():
			_ = journal.RecordFailure(ctx.Err().Error())
			return fmt.Errorf("receive cancelled: %w", ctx.Err())
		default:
		}

		entry := remoteManifest[id]

		if err := writeUUIDRequest(stream, id); err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}

		data, err := readFile(stream)
		if err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}

		if len(data) == 0 {
			// Sender denied this entry (see Send's authorization check);
			// real notes always carry a frontmatter header and are never
			// zero bytes, so this is an unambiguous skip signal.
			continue
		}

		if err := publishFile(destRoot, entry.Path, data); err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}

		transferred++

		if err := journal.Update(transferred, &total); err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}
	}

	if err := writeEOF(stream); err != nil {
		_ = journal.RecordFailure(err.Error())
		return err
	}

	_ = stream.CloseWrite()

	if transferred == 0 {
		return journal.ClearOrphaned()
	}

	return journal.RecordSuccess()
}

// Send implements the sender role: open the stream (the caller dials),
// write this vault's manifest (full for mirror, nickname-scoped for
// share), then serve whatever uuids the receiver requests until it sends
// the all-zero EOF marker. A request outside the sent manifest aborts the
// session; a request the authorization gate denies gets a zero-length
// file body instead of the real bytes and is not counted as transferred.
func Send(ctx context.Context, stream transport.Stream, v *vault.Vault, syncType syncstatus.Type, nickname string, log logger.Logger) error {
	remoteEndpointID := stream.RemoteEndpointID()

	journal := syncstatus.Open(v.Root(), remoteEndpointID, syncstatus.Outbound)

	if remoteEndpointID == v.Device().EndpointID {
		_ = journal.RecordFailure("sync with self")
		return ErrSelfSync
	}

	var (
		outgoing manifest.Manifest
		err      error
	)

	if syncType == syncstatus.Share {
		outgoing, err = manifest.BuildShare(v.Root(), nickname, log)
	} else {
		outgoing, err = manifest.BuildFull(v.Root(), log)
	}

	if err != nil {
		return err
	}

	if err := writeManifest(stream, outgoing); err != nil {
		return err
	}

	if err := journal.Start(remoteEndpointID, syncType, syncstatus.Outbound); err != nil {
		return err
	}

	transferred := 0

	for {
		select {
		case <-ctx.Done():
			_ = journal.RecordFailure(ctx.Err().Error())
			return fmt.Errorf("send cancelled: %w", ctx.Err())
		default:
		}

		id, more, err := readUUIDRequest(stream)
		if err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}

		if !more {
			break
		}

		entry, ok := outgoing[id]
		if !ok {
			_ = journal.RecordFailure(ErrUnsolicitedRequest.Error())
			return ErrUnsolicitedRequest
		}

		if !v.CanDeviceReadNote(remoteEndpointID, entry.Path) {
			if err := writeFile(stream, nil); err != nil {
				_ = journal.RecordFailure(err.Error())
				return err
			}

			continue
		}

		data, err := os.ReadFile(filepath.Join(v.Root(), filepath.FromSlash(entry.Path))) //nolint:gosec // manifest-relative path under the vault root
		if err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}

		if err := writeFile(stream, data); err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}

		transferred++

		if err := journal.Update(transferred, nil); err != nil {
			_ = journal.RecordFailure(err.Error())
			return err
		}
	}

	_ = stream.CloseWrite()

	if transferred == 0 {
		return journal.ClearOrphaned()
	}

	return journal.RecordSuccess()
}

// Dispatch accepts the listener side's routing decision for one already-
// accepted ALPN_SYNC stream: a recognized contact's device runs a share
// receive into footnotes/<nickname>/, one of our own devices runs a mirror
// receive into the vault root, anything else is rejected.
func Dispatch(ctx context.Context, stream transport.Stream, v *vault.Vault, log logger.Logger) error {
	remoteEndpointID := stream.RemoteEndpointID()

	contact, isContact, err := v.FindContactByEndpoint(remoteEndpointID)
	if err != nil {
		return err
	}

	if isContact {
		dest := v.PeerShareDir(contact.Nickname)
		return Receive(ctx, stream, v.Root(), dest, syncstatus.Share, log)
	}

	if ownsDevice(v, remoteEndpointID) {
		return Receive(ctx, stream, v.Root(), v.Root(), syncstatus.Mirror, log)
	}

	_ = stream.Close()

	return ErrUnauthorizedPeer
}

func ownsDevice(v *vault.Vault, endpointID string) bool {
	u, ok := v.User()
	if !ok {
		return false
	}

	return u.HasDevice(endpointID)
}
