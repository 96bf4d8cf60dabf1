package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/hivechat/internal/model"
)

const (
	usersCollection    = "users"
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

// MongoConfig describes how to reach the database.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize int
	MaxRetry    int
}

// Mongo implements Store on MongoDB.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	chats    *mongo.Collection
	messages *mongo.Collection
}

// NewMongo connects, pings and ensures indexes. Transient connection
// failures are retried MaxRetry times.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < cfg.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Second / 2)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect to mongodb %s", cfg.URI)
	}

	db := cli.Database(cfg.Database)
	m := &Mongo{
		client:   cli,
		users:    db.Collection(usersCollection),
		chats:    db.Collection(chatsCollection),
		messages: db.Collection(messagesCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if _, err := m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "create users.email index")
	}
	if _, err := m.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "users", Value: 1}, {Key: "updatedAt", Value: -1}},
	}); err != nil {
		return errors.Wrap(err, "create chats.users index")
	}
	if _, err := m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat", Value: 1}, {Key: "createdAt", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "create messages.chat index")
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return errors.Wrap(err, op)
	}
}

// CreateUser inserts user; a taken email yields ErrDuplicate.
func (m *Mongo) CreateUser(ctx context.Context, user *model.User) error {
	stampUser(user)
	_, err := m.users.InsertOne(ctx, user)
	return translate(err, "insert user")
}

// FindUserByID returns the user with id.
func (m *Mongo) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := m.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, translate(err, "find user")
	}
	return &u, nil
}

// FindUserByEmail matches the stored, lowercased email.
func (m *Mongo) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := m.users.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, translate(err, "find user by email")
	}
	return &u, nil
}

// FindUsersByIDs returns the users that exist among ids.
func (m *Mongo) FindUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	cur, err := m.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, translate(err, "find users")
	}
	out := []model.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err, "decode users")
	}
	return out, nil
}

// ListUsers returns one page of users ordered by username.
func (m *Mongo) ListUsers(ctx context.Context, page, size int) ([]model.User, error) {
	opts := options.Find().
		SetSkip(int64((page - 1) * size)).
		SetLimit(int64(size)).
		SetSort(bson.D{{Key: "username", Value: 1}})
	cur, err := m.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, translate(err, "list users")
	}
	out := []model.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err, "decode users")
	}
	return out, nil
}

// SetAdmin sets the admin flag on ids and returns the updated users.
func (m *Mongo) SetAdmin(ctx context.Context, ids []string, isAdmin bool) ([]model.User, error) {
	filter := bson.M{"_id": bson.M{"$in": ids}}
	update := bson.M{"$set": bson.M{"isAdmin": isAdmin, "updatedAt": now()}}
	if _, err := m.users.UpdateMany(ctx, filter, update); err != nil {
		return nil, translate(err, "update users")
	}
	cur, err := m.users.Find(ctx, filter)
	if err != nil {
		return nil, translate(err, "find updated users")
	}
	out := []model.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err, "decode users")
	}
	return out, nil
}

// DeleteUsers removes ids and reports how many existed.
func (m *Mongo) DeleteUsers(ctx context.Context, ids []string) (int64, error) {
	res, err := m.users.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, translate(err, "delete users")
	}
	return res.DeletedCount, nil
}

// CreateChat inserts chat.
func (m *Mongo) CreateChat(ctx context.Context, chat *model.Chat) error {
	stampChat(chat)
	_, err := m.chats.InsertOne(ctx, chat)
	return translate(err, "insert chat")
}

// FindChatByID returns the chat with id.
func (m *Mongo) FindChatByID(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	if err := m.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, translate(err, "find chat")
	}
	return &c, nil
}

// FindDirectChat returns the 1:1 chat holding both users.
func (m *Mongo) FindDirectChat(ctx context.Context, userA, userB string) (*model.Chat, error) {
	filter := bson.M{
		"isGroupChat": false,
		"users":       bson.M{"$all": bson.A{userA, userB}},
	}
	var c model.Chat
	if err := m.chats.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, translate(err, "find direct chat")
	}
	return &c, nil
}

// ListChatsForUser returns the chats userID belongs to, most recently
// updated first.
func (m *Mongo) ListChatsForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := m.chats.Find(ctx, bson.M{"users": userID}, opts)
	if err != nil {
		return nil, translate(err, "list chats")
	}
	out := []model.Chat{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err, "decode chats")
	}
	return out, nil
}

func (m *Mongo) updateChat(ctx context.Context, id string, update bson.M, op string) (*model.Chat, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var c model.Chat
	if err := m.chats.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&c); err != nil {
		return nil, translate(err, op)
	}
	return &c, nil
}

// RenameChat sets the chat name.
func (m *Mongo) RenameChat(ctx context.Context, id, name string) (*model.Chat, error) {
	return m.updateChat(ctx, id, bson.M{"$set": bson.M{"chatName": name, "updatedAt": now()}}, "rename chat")
}

// AddChatMember adds userID to the member set.
func (m *Mongo) AddChatMember(ctx context.Context, id, userID string) (*model.Chat, error) {
	return m.updateChat(ctx, id, bson.M{
		"$addToSet": bson.M{"users": userID},
		"$set":      bson.M{"updatedAt": now()},
	}, "add chat member")
}

// RemoveChatMember pulls userID from the member list.
func (m *Mongo) RemoveChatMember(ctx context.Context, id, userID string) (*model.Chat, error) {
	return m.updateChat(ctx, id, bson.M{
		"$pull": bson.M{"users": userID},
		"$set":  bson.M{"updatedAt": now()},
	}, "remove chat member")
}

// DeleteChat removes the chat's messages, then the chat. A failed message
// delete leaves the chat in place.
func (m *Mongo) DeleteChat(ctx context.Context, id string) error {
	if _, err := m.messages.DeleteMany(ctx, bson.M{"chat": id}); err != nil {
		return translate(err, "delete chat messages")
	}
	res, err := m.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err, "delete chat")
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts msg and records it as the chat's latest message.
func (m *Mongo) CreateMessage(ctx context.Context, msg *model.Message) error {
	stampMessage(msg)
	if _, err := m.messages.InsertOne(ctx, msg); err != nil {
		return translate(err, "insert message")
	}
	_, err := m.chats.UpdateOne(ctx, bson.M{"_id": msg.Chat}, bson.M{
		"$set": bson.M{"latestMessage": msg.ID, "updatedAt": msg.CreatedAt},
	})
	return translate(err, "set latest message")
}

// ListMessages returns the chat's messages oldest first.
func (m *Mongo) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := m.messages.Find(ctx, bson.M{"chat": chatID}, opts)
	if err != nil {
		return nil, translate(err, "list messages")
	}
	out := []model.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, translate(err, "decode messages")
	}
	return out, nil
}

// FindMessageByID returns the message with id.
func (m *Mongo) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := m.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, translate(err, "find message")
	}
	return &msg, nil
}
