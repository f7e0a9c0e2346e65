package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/teris-io/shortid"
)

// Key layout. Documents are stored as JSON under an id key, with
// timestamp-prefixed index keys for ordered scans.
//
//	user:<id>                          user document
//	useremail:<email>                  user id
//	channel:<id>                       channel document
//	userchan:<user>:<channel>          channel id
//	direct:<a>:<b>                     channel id, a < b
//	msg:<id>                           message document
//	chanmsg:<channel>:<nano>-<id>      message id, top-level messages only
//	reply:<parent>:<nano>-<id>         message id
//	invite:<id>                        invitation document
//	userinvite:<invitee>:<id>          invitation id
type PebbleChatRepository struct {
	db *pebble.DB

	// mu serializes read-modify-write updates so concurrent mutations of
	// the same document are applied one at a time, never lost.
	mu sync.Mutex
}

func NewPebbleChatRepository(path string) (*PebbleChatRepository, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}

	return &PebbleChatRepository{db: db}, nil
}

func (r *PebbleChatRepository) Close() error {
	return r.db.Close()
}

func (r *PebbleChatRepository) Ping() error {
	_, closer, err := r.db.Get([]byte("ping"))
	if err != nil && err != pebble.ErrNotFound {
		return err
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}

func userKey(id string) []byte     { return []byte("user:" + id) }
func userEmailKey(e string) []byte { return []byte("useremail:" + e) }
func channelKey(id string) []byte  { return []byte("channel:" + id) }
func messageKey(id string) []byte  { return []byte("msg:" + id) }
func inviteKey(id string) []byte   { return []byte("invite:" + id) }
func userChanKey(u, c string) []byte {
	return []byte("userchan:" + u + ":" + c)
}
func directKey(a, b string) []byte {
	return []byte("direct:" + a + ":" + b)
}
func userInviteKey(u, id string) []byte {
	return []byte("userinvite:" + u + ":" + id)
}

// seqSuffix yields a lexically sortable key segment ordered by creation
// time, with the message id as tiebreaker.
func seqSuffix(t time.Time, id string) string {
	return fmt.Sprintf("%020d-%s", t.UnixNano(), id)
}

func chanMsgKey(channelId string, t time.Time, id string) []byte {
	return []byte("chanmsg:" + channelId + ":" + seqSuffix(t, id))
}

func replyKey(parentId string, t time.Time, id string) []byte {
	return []byte("reply:" + parentId + ":" + seqSuffix(t, id))
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	}
}

func (r *PebbleChatRepository) getDoc(key []byte, out any) error {
	data, closer, err := r.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()

	return json.Unmarshal(data, out)
}

func (r *PebbleChatRepository) setDoc(key []byte, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	return r.db.Set(key, data, pebble.Sync)
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func (r *PebbleChatRepository) CreateUser(params CreateUserParams) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, closer, err := r.db.Get(userEmailKey(params.EmailAddress)); err == nil {
		closer.Close()
		return types.User{}, fmt.Errorf("email %q: %w", params.EmailAddress, ErrAlreadyExists)
	} else if err != pebble.ErrNotFound {
		return types.User{}, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return types.User{}, fmt.Errorf("generate id: %w", err)
	}

	ts := now()
	user := types.User{
		Id:           id,
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		Password:     params.PasswordHash,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	batch := r.db.NewBatch()
	data, err := json.Marshal(user)
	if err != nil {
		return types.User{}, err
	}
	batch.Set(userKey(user.Id), data, nil)
	batch.Set(userEmailKey(user.EmailAddress), []byte(user.Id), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.User{}, err
	}

	return user, nil
}

func (r *PebbleChatRepository) GetUserById(id string) (types.User, error) {
	var user types.User
	err := r.getDoc(userKey(id), &user)
	return user, err
}

func (r *PebbleChatRepository) GetUserByEmail(email string) (types.User, error) {
	data, closer, err := r.db.Get(userEmailKey(email))
	if err != nil {
		if err == pebble.ErrNotFound {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	id := string(data)
	closer.Close()

	return r.GetUserById(id)
}

func (r *PebbleChatRepository) CreateChannel(params CreateChannelParams) (types.Channel, error) {
	id, err := shortid.Generate()
	if err != nil {
		return types.Channel{}, fmt.Errorf("generate id: %w", err)
	}

	members := params.Members
	if params.CreatedBy != "" && !slices.Contains(members, params.CreatedBy) {
		members = append(members, params.CreatedBy)
	}

	ts := now()
	channel := types.Channel{
		Id:          id,
		Name:        params.Name,
		Description: params.Description,
		CreatedBy:   params.CreatedBy,
		IsPrivate:   params.IsPrivate,
		IsDirect:    params.IsDirect,
		Members:     members,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	data, err := json.Marshal(channel)
	if err != nil {
		return types.Channel{}, err
	}

	batch := r.db.NewBatch()
	batch.Set(channelKey(channel.Id), data, nil)
	for _, m := range channel.Members {
		batch.Set(userChanKey(m, channel.Id), []byte(channel.Id), nil)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.Channel{}, err
	}

	return channel, nil
}

func (r *PebbleChatRepository) GetChannel(id string) (types.Channel, error) {
	var channel types.Channel
	err := r.getDoc(channelKey(id), &channel)
	return channel, err
}

func (r *PebbleChatRepository) UpdateChannel(id string, mutate func(*types.Channel) error) (types.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var channel types.Channel
	if err := r.getDoc(channelKey(id), &channel); err != nil {
		return types.Channel{}, err
	}

	if err := mutate(&channel); err != nil {
		return types.Channel{}, err
	}
	channel.UpdatedAt = now()

	if err := r.setDoc(channelKey(id), channel); err != nil {
		return types.Channel{}, err
	}

	return channel, nil
}

func (r *PebbleChatRepository) ListUserChannels(userId string) ([]types.Channel, error) {
	iter, err := r.db.NewIter(prefixIterOptions([]byte("userchan:" + userId + ":")))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var channels []types.Channel
	for iter.First(); iter.Valid(); iter.Next() {
		var channel types.Channel
		if err := r.getDoc(channelKey(string(iter.Value())), &channel); err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		channels = append(channels, channel)
	}

	return channels, iter.Error()
}

func (r *PebbleChatRepository) MembersOf(channelId string) ([]string, error) {
	channel, err := r.GetChannel(channelId)
	if err != nil {
		return nil, err
	}
	return channel.Members, nil
}

func (r *PebbleChatRepository) IsMember(channelId, userId string) (bool, error) {
	channel, err := r.GetChannel(channelId)
	if err != nil {
		return false, err
	}
	return channel.HasMember(userId), nil
}

func (r *PebbleChatRepository) AddMember(channelId, userId string) (types.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var channel types.Channel
	if err := r.getDoc(channelKey(channelId), &channel); err != nil {
		return types.Channel{}, err
	}

	if channel.HasMember(userId) {
		return channel, nil
	}

	channel.Members = append(channel.Members, userId)
	channel.UpdatedAt = now()

	data, err := json.Marshal(channel)
	if err != nil {
		return types.Channel{}, err
	}

	batch := r.db.NewBatch()
	batch.Set(channelKey(channelId), data, nil)
	batch.Set(userChanKey(userId, channelId), []byte(channelId), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.Channel{}, err
	}

	return channel, nil
}

// GetOrCreateDirectChannel returns the two-party direct channel for the
// given pair, creating it if absent. The channel is keyed by the sorted
// pair of user ids so the lookup is idempotent regardless of argument
// order.
func (r *PebbleChatRepository) GetOrCreateDirectChannel(userId, otherId string) (types.Channel, error) {
	pair := []string{userId, otherId}
	sort.Strings(pair)

	r.mu.Lock()
	defer r.mu.Unlock()

	data, closer, err := r.db.Get(directKey(pair[0], pair[1]))
	if err == nil {
		id := string(data)
		closer.Close()
		var channel types.Channel
		if err := r.getDoc(channelKey(id), &channel); err != nil {
			return types.Channel{}, err
		}
		return channel, nil
	}
	if err != pebble.ErrNotFound {
		return types.Channel{}, err
	}

	var first, second types.User
	if err := r.getDoc(userKey(pair[0]), &first); err != nil {
		return types.Channel{}, err
	}
	if err := r.getDoc(userKey(pair[1]), &second); err != nil {
		return types.Channel{}, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return types.Channel{}, fmt.Errorf("generate id: %w", err)
	}

	ts := now()
	channel := types.Channel{
		Id:        id,
		Name:      fmt.Sprintf("DM: %s & %s", first.Username, second.Username),
		CreatedBy: pair[0],
		IsPrivate: true,
		IsDirect:  true,
		Members:   pair,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	chanData, err := json.Marshal(channel)
	if err != nil {
		return types.Channel{}, err
	}

	batch := r.db.NewBatch()
	batch.Set(channelKey(channel.Id), chanData, nil)
	batch.Set(directKey(pair[0], pair[1]), []byte(channel.Id), nil)
	for _, m := range channel.Members {
		batch.Set(userChanKey(m, channel.Id), []byte(channel.Id), nil)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.Channel{}, err
	}

	return channel, nil
}

func (r *PebbleChatRepository) InsertMessage(msg types.Message) (types.Message, error) {
	if msg.Id == "" {
		id, err := shortid.Generate()
		if err != nil {
			return types.Message{}, fmt.Errorf("generate id: %w", err)
		}
		msg.Id = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	msg.UpdatedAt = msg.CreatedAt

	data, err := json.Marshal(msg)
	if err != nil {
		return types.Message{}, err
	}

	batch := r.db.NewBatch()
	batch.Set(messageKey(msg.Id), data, nil)
	if msg.ParentId == "" {
		batch.Set(chanMsgKey(msg.ChannelId, msg.CreatedAt, msg.Id), []byte(msg.Id), nil)
	} else {
		batch.Set(replyKey(msg.ParentId, msg.CreatedAt, msg.Id), []byte(msg.Id), nil)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (r *PebbleChatRepository) GetMessage(id string) (types.Message, error) {
	var msg types.Message
	err := r.getDoc(messageKey(id), &msg)
	return msg, err
}

func (r *PebbleChatRepository) UpdateMessage(id string, mutate func(*types.Message) error) (types.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msg types.Message
	if err := r.getDoc(messageKey(id), &msg); err != nil {
		return types.Message{}, err
	}

	if err := mutate(&msg); err != nil {
		return types.Message{}, err
	}
	msg.UpdatedAt = now()

	if err := r.setDoc(messageKey(id), msg); err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (r *PebbleChatRepository) DeleteMessage(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var msg types.Message
	if err := r.getDoc(messageKey(id), &msg); err != nil {
		return err
	}

	batch := r.db.NewBatch()
	batch.Delete(messageKey(id), nil)
	if msg.ParentId == "" {
		batch.Delete(chanMsgKey(msg.ChannelId, msg.CreatedAt, msg.Id), nil)
	} else {
		batch.Delete(replyKey(msg.ParentId, msg.CreatedAt, msg.Id), nil)
	}
	return batch.Commit(pebble.Sync)
}

// ListChannelMessages returns the channel's top-level messages newest
// first. A non-zero before bounds the scan to messages created strictly
// earlier.
func (r *PebbleChatRepository) ListChannelMessages(channelId string, before time.Time, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	prefix := []byte("chanmsg:" + channelId + ":")
	opts := prefixIterOptions(prefix)
	if !before.IsZero() {
		opts.UpperBound = []byte(string(prefix) + fmt.Sprintf("%020d", before.UnixNano()))
	}

	iter, err := r.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var messages []types.Message
	for ok := iter.Last(); ok && len(messages) < limit; ok = iter.Prev() {
		var msg types.Message
		if err := r.getDoc(messageKey(string(iter.Value())), &msg); err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, iter.Error()
}

// ListReplies returns a message's replies ordered by creation time
// ascending.
func (r *PebbleChatRepository) ListReplies(parentId string) ([]types.Message, error) {
	iter, err := r.db.NewIter(prefixIterOptions([]byte("reply:" + parentId + ":")))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var replies []types.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var msg types.Message
		if err := r.getDoc(messageKey(string(iter.Value())), &msg); err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		replies = append(replies, msg)
	}

	return replies, iter.Error()
}

func (r *PebbleChatRepository) CountReplies(parentId string) (int, error) {
	iter, err := r.db.NewIter(prefixIterOptions([]byte("reply:" + parentId + ":")))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n int
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}

	return n, iter.Error()
}

func (r *PebbleChatRepository) CreateInvitation(channelId, inviterId, inviteeId string) (types.Invitation, error) {
	id, err := shortid.Generate()
	if err != nil {
		return types.Invitation{}, fmt.Errorf("generate id: %w", err)
	}

	ts := now()
	inv := types.Invitation{
		Id:        id,
		ChannelId: channelId,
		InviterId: inviterId,
		InviteeId: inviteeId,
		Status:    types.InvitationPending,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	data, err := json.Marshal(inv)
	if err != nil {
		return types.Invitation{}, err
	}

	batch := r.db.NewBatch()
	batch.Set(inviteKey(inv.Id), data, nil)
	batch.Set(userInviteKey(inv.InviteeId, inv.Id), []byte(inv.Id), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		return types.Invitation{}, err
	}

	return inv, nil
}

func (r *PebbleChatRepository) GetInvitation(id string) (types.Invitation, error) {
	var inv types.Invitation
	err := r.getDoc(inviteKey(id), &inv)
	return inv, err
}

func (r *PebbleChatRepository) UpdateInvitation(id string, mutate func(*types.Invitation) error) (types.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var inv types.Invitation
	if err := r.getDoc(inviteKey(id), &inv); err != nil {
		return types.Invitation{}, err
	}

	if err := mutate(&inv); err != nil {
		return types.Invitation{}, err
	}
	inv.UpdatedAt = now()

	if err := r.setDoc(inviteKey(id), inv); err != nil {
		return types.Invitation{}, err
	}

	return inv, nil
}

func (r *PebbleChatRepository) ListPendingInvitations(inviteeId string) ([]types.Invitation, error) {
	iter, err := r.db.NewIter(prefixIterOptions([]byte("userinvite:" + inviteeId + ":")))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var invitations []types.Invitation
	for iter.First(); iter.Valid(); iter.Next() {
		var inv types.Invitation
		if err := r.getDoc(inviteKey(string(iter.Value())), &inv); err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		if inv.Status == types.InvitationPending {
			invitations = append(invitations, inv)
		}
	}

	return invitations, iter.Error()
}

func (r *PebbleChatRepository) HasPendingInvitation(channelId, inviteeId string) (bool, error) {
	invitations, err := r.ListPendingInvitations(inviteeId)
	if err != nil {
		return false, err
	}

	for _, inv := range invitations {
		if inv.ChannelId == channelId {
			return true, nil
		}
	}

	return false, nil
}

