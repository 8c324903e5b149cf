package dataprovider

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/storage"
)


const MembersPath = "/Members"


// members keyed by account hash
// writes are optimistic, so the local member list reflects a join before the store confirms it
type MembersProvider struct {
	*Provider[map[model.AccountHash]model.Member]
	port *storage.KeyValuePort[model.AccountHash, model.Member]
}

func NewMembersProvider(remote storage.Remote, settings *ReadinessSettings, upstreams ...Upstream) (*MembersProvider, error) {
	portSettings := storage.DefaultKeyValuePortSettings()
	portSettings.Optimistic = true
	port, err := storage.NewKeyValuePort[model.AccountHash, model.Member](
		remote,
		MembersPath,
		model.AccountHashKeyCodec{},
		portSettings,
	)
	if err != nil {
		return nil, err
	}
	return &MembersProvider{
		Provider: NewProvider[map[model.AccountHash]model.Member]("members", port, settings, upstreams...),
		port: port,
	}, nil
}

func (self *MembersProvider) Members() (map[model.AccountHash]model.Member, error) {
	return self.Cache()
}

func (self *MembersProvider) Member(accountHash model.AccountHash) (model.Member, bool, error) {
	if err := self.checkReady(); err != nil {
		return model.Member{}, false, err
	}
	member, ok := self.port.Get(accountHash)
	return member, ok, nil
}

// the add is visible locally before the store answers
func (self *MembersProvider) AddMember(ctx context.Context, member model.Member) error {
	return self.UpdateMember(ctx, member)
}

func (self *MembersProvider) UpdateMember(ctx context.Context, member model.Member) error {
	return <-self.UpdateMemberAsync(ctx, member)
}

// the member is visible locally when this returns
// the channel yields the store's answer once and is then closed
func (self *MembersProvider) UpdateMemberAsync(ctx context.Context, member model.Member) <-chan error {
	if err := self.checkReady(); err != nil {
		result := make(chan error, 1)
		result <- err
		close(result)
		return result
	}
	return self.port.UpdateAsync(ctx, member.AccountHash, member)
}

func (self *MembersProvider) RemoveMember(ctx context.Context, accountHash model.AccountHash) error {
	if err := self.checkReady(); err != nil {
		return err
	}
	return self.port.Delete(ctx, accountHash)
}

// makes `accountHash` the only owner. Other owners are demoted in parallel.
func (self *MembersProvider) PromoteToOwner(ctx context.Context, accountHash model.AccountHash) error {
	members, err := self.Members()
	if err != nil {
		return err
	}
	member, ok := members[accountHash]
	if !ok {
		return fmt.Errorf("%w: member %s", rtdb.ErrNotFound, accountHash)
	}
	if member.IsOwner() {
		return nil
	}

	member.Role = model.MemberRoleOwner
	if err := self.UpdateMember(ctx, member); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, otherMember := range members {
		if otherMember.AccountHash == accountHash || !otherMember.IsOwner() {
			continue
		}
		otherMember.Role = model.MemberRoleMember
		group.Go(func() error {
			return self.UpdateMember(groupCtx, otherMember)
		})
	}
	return group.Wait()
}

func (self *MembersProvider) IsPending(accountHash model.AccountHash) bool {
	return self.port.IsPending(accountHash)
}

// `previous` on the echo of a local write is the member before that write
func (self *MembersProvider) AddListener(listener *storage.KeyValueListener[model.AccountHash, model.Member]) func() {
	return self.port.AddListener(listener)
}
