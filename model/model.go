package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// records persisted in the store
// /GameRules, /Members/<accountHash>, /UnlockedItems/<itemId>, /GroundItemOwnedBy/<key>/<entryKey>


// serialized as a decimal string, since the value does not fit a json number exactly
type AccountHash int64

func (self AccountHash) String() string {
	return strconv.FormatInt(int64(self), 10)
}

func (self AccountHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.String())
}

// accepts the string form and plain numbers
func (self *AccountHash) UnmarshalJSON(src []byte) error {
	var accountHashStr string
	if err := json.Unmarshal(src, &accountHashStr); err != nil {
		var accountHashNumber json.Number
		if err := json.Unmarshal(src, &accountHashNumber); err != nil {
			return fmt.Errorf("invalid account hash: %s", src)
		}
		accountHashStr = accountHashNumber.String()
	}
	accountHash, err := strconv.ParseInt(accountHashStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid account hash: %s", src)
	}
	*self = AccountHash(accountHash)
	return nil
}


// RFC3339 with offset. The zero value is serialized as null.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func Now() Timestamp {
	return NewTimestamp(time.Now())
}

func (self Timestamp) MarshalJSON() ([]byte, error) {
	if self.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(self.Format(time.RFC3339Nano))
}

func (self *Timestamp) UnmarshalJSON(src []byte) error {
	if bytes.Equal(bytes.TrimSpace(src), []byte("null")) {
		*self = Timestamp{}
		return nil
	}
	var timestampStr string
	if err := json.Unmarshal(src, &timestampStr); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return err
	}
	*self = Timestamp{Time: t}
	return nil
}


type GameRules struct {
	PreventTradeOutsideGroup bool `json:"preventTradeOutsideGroup"`
	PreventTradeLockedItems bool `json:"preventTradeLockedItems"`
	PreventGrandExchangeBuyOffers bool `json:"preventGrandExchangeBuyOffers"`
	ShareAchievementNotifications bool `json:"shareAchievementNotifications"`
	PartyPassword *string `json:"partyPassword,omitempty"`
}

func DefaultGameRules() *GameRules {
	return &GameRules{
		PreventTradeOutsideGroup: true,
		PreventTradeLockedItems: true,
		PreventGrandExchangeBuyOffers: true,
		ShareAchievementNotifications: true,
	}
}


type MemberRole string

const (
	MemberRoleOwner MemberRole = "Owner"
	MemberRoleMember MemberRole = "Member"
)


type Member struct {
	AccountHash AccountHash `json:"accountHash"`
	Name string `json:"name"`
	JoinedAt Timestamp `json:"joinedAt"`
	Role MemberRole `json:"role"`
}

func (self *Member) IsOwner() bool {
	return self.Role == MemberRoleOwner
}


type UnlockedItem struct {
	Id int `json:"id"`
	Name string `json:"name"`
	AcquiredByAccountHash AccountHash `json:"acquiredByAccountHash"`
	AcquiredAt Timestamp `json:"acquiredAt"`
	// nil when the item was not a drop
	DroppedByNpcId *int `json:"droppedByNPCId,omitempty"`
}


type GroundItemOwnedByData struct {
	AccountHash AccountHash `json:"accountHash"`
	DroppedAt Timestamp `json:"droppedAt"`
}


// `/Members/<accountHash>`
type AccountHashKeyCodec struct{}

func (self AccountHashKeyCodec) Encode(key AccountHash) string {
	return key.String()
}

func (self AccountHashKeyCodec) Decode(encodedKey string) (AccountHash, error) {
	accountHash, err := strconv.ParseInt(encodedKey, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: account hash key %q", rtdb.ErrDecode, encodedKey)
	}
	return AccountHash(accountHash), nil
}
