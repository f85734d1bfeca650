package network

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/tgcollect/tgcollect/internal/store"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// WhatsAppDialer dials whatsmeow-backed sessions. Each tenant gets its own
// device store database under dataDir, keyed by the tenant's credential ref,
// so sessions never share connection state.
type WhatsAppDialer struct {
	DataDir string
}

// Dial opens the tenant's device store and returns an unconnected session.
func (d *WhatsAppDialer) Dial(ctx context.Context, tenant *store.Tenant) (Session, error) {
	ref := tenant.CredentialRef
	if ref == "" {
		ref = fmt.Sprintf("tenant-%d", tenant.ID)
	}
	dbPath := filepath.Join(d.DataDir, "sessions", ref+".db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return nil, &TransientError{Op: "open session store", Err: err}
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, &TransientError{Op: "get device", Err: err}
	}

	return &whatsAppSession{
		tenantID:  tenant.ID,
		container: container,
		client:    whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "WARN", true)),
		events:    make(chan RawEvent, 256),
		latest:    make(map[int64]int64),
		jids:      make(map[int64]types.JID),
	}, nil
}

// whatsAppSession adapts a whatsmeow client to the Session interface.
//
// The network's string message ids carry no ordering, so MsgID is derived
// from the message timestamp (unix millis): unique within a group in
// practice and monotonic, which is what the watermark logic needs.
type whatsAppSession struct {
	tenantID  int64
	container *sqlstore.Container
	client    *whatsmeow.Client
	events    chan RawEvent
	mu        sync.Mutex
	latest    map[int64]int64     // groupID -> highest MsgID seen
	jids      map[int64]types.JID // groupID -> JID
	closed    bool
}

// GroupIDFromJID derives the stable numeric group id used everywhere in the
// store from a network JID.
func GroupIDFromJID(jid types.JID) int64 {
	h := fnv.New64a()
	h.Write([]byte(jid.ToNonAD().String()))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func msgIDFromInfo(info *types.MessageInfo) int64 {
	return info.Timestamp.UnixMilli()
}

func (s *whatsAppSession) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		// Device was never paired: this is the credential portal's job,
		// not the worker's. Treat as revoked so the supervisor stops.
		return fmt.Errorf("device not paired: %w", ErrAuthRevoked)
	}

	s.client.AddEventHandler(s.handleEvent)
	if err := s.client.Connect(); err != nil {
		return &TransientError{Op: "connect", Err: err}
	}

	// Wait for the connection to settle before the worker trusts the
	// live stream.
	deadline := time.Now().Add(15 * time.Second)
	for !s.client.IsConnected() {
		select {
		case <-ctx.Done():
			s.client.Disconnect()
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			s.client.Disconnect()
			return &TransientError{Op: "connect", Err: fmt.Errorf("timed out waiting for connection")}
		}
	}
	return nil
}

func (s *whatsAppSession) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		if !v.Info.IsGroup {
			return
		}
		gid := GroupIDFromJID(v.Info.Chat)
		raw := RawEvent{
			Kind:       EventMessage,
			GroupID:    gid,
			MsgID:      msgIDFromInfo(&v.Info),
			SenderID:   senderIDFromJID(v.Info.Sender),
			SenderName: v.Info.PushName,
			Timestamp:  v.Info.Timestamp,
		}
		if v.Message.GetConversation() != "" {
			raw.Text = v.Message.GetConversation()
		} else if ext := v.Message.GetExtendedTextMessage(); ext.GetText() != "" {
			raw.Text = ext.GetText()
		} else if v.Message.GetImageMessage() != nil {
			raw.MediaType = "image"
		} else if v.Message.GetVideoMessage() != nil {
			raw.MediaType = "video"
		} else if v.Message.GetAudioMessage() != nil {
			raw.MediaType = "audio"
		} else if v.Message.GetDocumentMessage() != nil {
			raw.MediaType = "document"
		}
		s.mu.Lock()
		if raw.MsgID > s.latest[gid] {
			s.latest[gid] = raw.MsgID
		}
		s.jids[gid] = v.Info.Chat
		s.mu.Unlock()
		s.deliver(raw)

	case *events.LoggedOut:
		slog.Warn("whatsapp: logged out by server", "tenant_id", s.tenantID)
		s.closeEvents()

	case *events.Disconnected:
		s.closeEvents()
	}
}

func (s *whatsAppSession) deliver(raw RawEvent) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- raw:
	default:
		slog.Warn("whatsapp: event buffer full, dropping", "tenant_id", s.tenantID, "group_id", raw.GroupID)
	}
}

func (s *whatsAppSession) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *whatsAppSession) Events() <-chan RawEvent {
	return s.events
}

func (s *whatsAppSession) Groups(ctx context.Context) ([]GroupInfo, error) {
	joined, err := s.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, &TransientError{Op: "list groups", Err: err}
	}
	out := make([]GroupInfo, 0, len(joined))
	s.mu.Lock()
	for _, g := range joined {
		gid := GroupIDFromJID(g.JID)
		s.jids[gid] = g.JID
		out = append(out, GroupInfo{GroupID: gid, Title: g.Name})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *whatsAppSession) LatestMessageID(ctx context.Context, groupID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[groupID], nil
}

// FetchHistory is best-effort on this network: history beyond what the
// paired device still holds is not retrievable, so gaps older than the
// device's buffer stay gaps.
func (s *whatsAppSession) FetchHistory(ctx context.Context, groupID, afterID int64, limit int) ([]RawEvent, error) {
	// whatsmeow surfaces history through HistorySync events pushed by the
	// phone rather than a pull API; the live stream already replays what
	// the device buffered on reconnect, so there is nothing further to
	// fetch here.
	return nil, nil
}

func (s *whatsAppSession) Close() error {
	s.client.Disconnect()
	s.container.Close()
	s.closeEvents()
	return nil
}

func senderIDFromJID(jid types.JID) int64 {
	h := fnv.New64a()
	h.Write([]byte(jid.ToNonAD().User))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// Pair runs the QR pairing flow for a tenant's device and blocks until the
// pairing completes or ctx is cancelled. The QR code is also written as a
// PNG next to the session database for headless setups.
func Pair(ctx context.Context, dataDir string, tenant *store.Tenant) error {
	d := &WhatsAppDialer{DataDir: dataDir}
	sess, err := d.Dial(ctx, tenant)
	if err != nil {
		return err
	}
	ws := sess.(*whatsAppSession)
	defer ws.container.Close()

	if ws.client.Store.ID != nil {
		fmt.Println("Device already paired.")
		return nil
	}

	qrChan, _ := ws.client.GetQRChannel(ctx)
	if err := ws.client.Connect(); err != nil {
		return &TransientError{Op: "connect", Err: err}
	}
	defer ws.client.Disconnect()

	fmt.Println("Scan this QR code with the tenant's phone:")
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrPath := filepath.Join(dataDir, "sessions", fmt.Sprintf("pair-%d.png", tenant.ID))
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err == nil {
				fmt.Printf("QR code saved to %s\n", qrPath)
			}
		case "success":
			fmt.Println("Pairing complete.")
			return nil
		default:
			fmt.Println("Pairing event:", evt.Event)
		}
	}
	return fmt.Errorf("pairing did not complete")
}
