package nodes

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

const pairedSlotKey = "rpc.device_pairs"
const nodeTokensSlotKey = "rpc.node_tokens"

// PendingPair is a device.pair.request awaiting operator approval.
type PendingPair struct {
	RequestID   string   `json:"requestId"`
	DeviceID    string   `json:"deviceId"`
	DisplayName string   `json:"displayName,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Role        string   `json:"role,omitempty"`
	Caps        []string `json:"caps,omitempty"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

type pairedState struct {
	Pending []PendingPair `json:"pending"`
	Paired  []Paired      `json:"paired"`
}

// TokenRecord is one role's issued token for a paired device, stored as
// a hex digest — the raw token is returned to the caller only once, at
// creation or rotation time.
type TokenRecord struct {
	TokenHash   string `json:"tokenHash"`
	CreatedAtMs int64  `json:"createdAtMs"`
	RevokedAtMs int64  `json:"revokedAtMs,omitempty"`
	RotatedAtMs int64  `json:"rotatedAtMs,omitempty"`
}

type tokensState struct {
	// keyed by deviceId:role
	Tokens map[string]TokenRecord `json:"tokens"`
}

func loadPairedState(ctx context.Context, slots store.SlotStore) pairedState {
	return store.LoadSlot(ctx, slots, pairedSlotKey, pairedState{})
}

func savePairedState(ctx context.Context, slots store.SlotStore, st pairedState) {
	store.SaveSlot(ctx, slots, pairedSlotKey, st)
}

// LoadPaired reads the persisted pairing table from slots. Best-effort:
// a storage failure yields an empty table rather than an error, matching
// the generic slot-store degrade-to-default convention used everywhere
// else persisted state is read.
func LoadPaired(ctx context.Context, slots store.SlotStore) []Paired {
	return loadPairedState(ctx, slots).Paired
}

// LoadPending returns all outstanding device pair requests.
func LoadPending(ctx context.Context, slots store.SlotStore) []PendingPair {
	return loadPairedState(ctx, slots).Pending
}

// RequestPair admits a new pending pair request.
func RequestPair(ctx context.Context, slots store.SlotStore, deviceID, displayName, platform, role string, caps []string) PendingPair {
	st := loadPairedState(ctx, slots)
	req := PendingPair{
		RequestID:   "preq_" + uuid.NewString(),
		DeviceID:    deviceID,
		DisplayName: displayName,
		Platform:    platform,
		Role:        role,
		Caps:        caps,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	st.Pending = append(st.Pending, req)
	savePairedState(ctx, slots, st)
	return req
}

// ApprovePair promotes a pending request to a paired record, returning
// the raw token issued for its role (also persisted as a hash only).
func ApprovePair(ctx context.Context, slots store.SlotStore, requestID string) (Paired, string, bool) {
	st := loadPairedState(ctx, slots)
	idx := -1
	for i, p := range st.Pending {
		if p.RequestID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Paired{}, "", false
	}
	req := st.Pending[idx]
	st.Pending = append(st.Pending[:idx], st.Pending[idx+1:]...)

	paired := Paired{
		DeviceID:    req.DeviceID,
		Role:        req.Role,
		DisplayName: req.DisplayName,
		Platform:    req.Platform,
		Caps:        req.Caps,
	}
	st.Paired = append(st.Paired, paired)
	savePairedState(ctx, slots, st)

	token := issueToken(ctx, slots, req.DeviceID, req.Role)
	return paired, token, true
}

// RejectPair drops a pending request without pairing it.
func RejectPair(ctx context.Context, slots store.SlotStore, requestID string) bool {
	st := loadPairedState(ctx, slots)
	for i, p := range st.Pending {
		if p.RequestID == requestID {
			st.Pending = append(st.Pending[:i], st.Pending[i+1:]...)
			savePairedState(ctx, slots, st)
			return true
		}
	}
	return false
}

// RevokePair removes a paired device entirely and revokes its tokens.
func RevokePair(ctx context.Context, slots store.SlotStore, deviceID string) bool {
	st := loadPairedState(ctx, slots)
	removed := false
	kept := st.Paired[:0]
	for _, p := range st.Paired {
		if p.DeviceID == deviceID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	st.Paired = kept
	if removed {
		savePairedState(ctx, slots, st)
		tokens := loadTokensState(ctx, slots)
		now := time.Now().UnixMilli()
		for key, rec := range tokens.Tokens {
			if strings.HasPrefix(key, deviceID+":") && rec.RevokedAtMs == 0 {
				rec.RevokedAtMs = now
				tokens.Tokens[key] = rec
			}
		}
		store.SaveSlot(ctx, slots, nodeTokensSlotKey, tokens)
	}
	return removed
}

// SaveRename updates a paired device's display name by device id,
// returning false if no such device is paired.
func SaveRename(ctx context.Context, slots store.SlotStore, deviceID, displayName string) bool {
	st := loadPairedState(ctx, slots)
	updated := false
	for i := range st.Paired {
		if st.Paired[i].DeviceID == deviceID {
			st.Paired[i].DisplayName = displayName
			updated = true
		}
	}
	if !updated {
		return false
	}
	savePairedState(ctx, slots, st)
	return true
}

func loadTokensState(ctx context.Context, slots store.SlotStore) tokensState {
	st := store.LoadSlot(ctx, slots, nodeTokensSlotKey, tokensState{})
	if st.Tokens == nil {
		st.Tokens = map[string]TokenRecord{}
	}
	return st
}

// issueToken generates and persists a new token hash for deviceId:role,
// returning the raw token (the only time it is ever available).
func issueToken(ctx context.Context, slots store.SlotStore, deviceID, role string) string {
	raw := randomToken()
	st := loadTokensState(ctx, slots)
	st.Tokens[deviceID+":"+role] = TokenRecord{TokenHash: hashToken(raw), CreatedAtMs: time.Now().UnixMilli()}
	store.SaveSlot(ctx, slots, nodeTokensSlotKey, st)
	return raw
}

// RotateToken reissues a token for an already-paired device/role.
func RotateToken(ctx context.Context, slots store.SlotStore, deviceID, role string) string {
	raw := randomToken()
	st := loadTokensState(ctx, slots)
	rec := st.Tokens[deviceID+":"+role]
	rec.TokenHash = hashToken(raw)
	rec.RotatedAtMs = time.Now().UnixMilli()
	st.Tokens[deviceID+":"+role] = rec
	store.SaveSlot(ctx, slots, nodeTokensSlotKey, st)
	return raw
}

// RevokeToken marks a device/role token revoked without deleting the
// record; CheckToken rejects any record with a revocation time set.
func RevokeToken(ctx context.Context, slots store.SlotStore, deviceID, role string) bool {
	st := loadTokensState(ctx, slots)
	rec, ok := st.Tokens[deviceID+":"+role]
	if !ok {
		return false
	}
	rec.RevokedAtMs = time.Now().UnixMilli()
	st.Tokens[deviceID+":"+role] = rec
	store.SaveSlot(ctx, slots, nodeTokensSlotKey, st)
	return true
}

// CheckToken reports whether raw matches the live, unrevoked token
// stored for deviceId:role.
func CheckToken(ctx context.Context, slots store.SlotStore, deviceID, role, raw string) bool {
	st := loadTokensState(ctx, slots)
	rec, ok := st.Tokens[deviceID+":"+role]
	if !ok || rec.RevokedAtMs != 0 {
		return false
	}
	return rec.TokenHash == hashToken(raw)
}

func randomToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
