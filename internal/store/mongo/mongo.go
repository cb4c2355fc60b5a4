// Package mongo is the document-database store backend. Collections:
// users, meetings and chat_history (one document per message, keyed by
// meetingId).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
)

type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	meetings *mongo.Collection
	chat     *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Open connects, pings and makes sure the indexes exist.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client.Database(database))
	s.client = client
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func New(db *mongo.Database) *Store {
	return &Store{
		client:   db.Client(),
		users:    db.Collection("users"),
		meetings: db.Collection("meetings"),
		chat:     db.Collection("chat_history"),
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "resetPasswordToken", Value: 1}}, Options: options.Index().SetSparse(true)},
	}); err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	if _, err := s.chat.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "meetingId", Value: 1}, {Key: "timestamp", Value: 1}},
	}); err != nil {
		return fmt.Errorf("chat indexes: %w", err)
	}
	return nil
}

func (s *Store) Users() store.UserStore       { return users{s.users} }
func (s *Store) Meetings() store.MeetingStore { return meetings{c: s.meetings, chat: s.chat} }
func (s *Store) Chat() store.ChatStore        { return chat{s.chat} }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// AddMessage stores one chat message. The live chat writes these in
// production; seeding and integration tests use this.
func (s *Store) AddMessage(ctx context.Context, meetingID string, msg model.ChatMessage) error {
	_, err := s.chat.InsertOne(ctx, chatDoc{
		MeetingID: meetingID,
		SenderID:  msg.SenderID,
		Username:  msg.Username,
		Message:   msg.Message,
		Timestamp: msg.Timestamp,
	})
	return err
}

// objectID turns a malformed id into ErrNotFound: no document can have it.
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, common.ErrNotFound
	}
	return oid, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return common.ErrNotFound
	}
	return err
}

type userDoc struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	FirstName          string             `bson:"firstName"`
	LastName           string             `bson:"lastName"`
	Age                int                `bson:"age"`
	Email              string             `bson:"email"`
	Password           string             `bson:"password"`
	ResetPasswordToken string             `bson:"resetPasswordToken,omitempty"`
	CreatedAt          time.Time          `bson:"createdAt"`
}

func (d userDoc) model() model.User {
	return model.User{
		ID:                 d.ID.Hex(),
		FirstName:          d.FirstName,
		LastName:           d.LastName,
		Age:                d.Age,
		Email:              d.Email,
		PasswordHash:       d.Password,
		ResetPasswordToken: d.ResetPasswordToken,
		CreatedAt:          d.CreatedAt,
	}
}

type users struct{ c *mongo.Collection }

func (u users) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var d userDoc
	if err := u.c.FindOne(ctx, filter).Decode(&d); err != nil {
		return nil, notFound(err)
	}
	m := d.model()
	return &m, nil
}

func (u users) Get(ctx context.Context, id string) (*model.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return u.findOne(ctx, bson.M{"_id": oid})
}

func (u users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.findOne(ctx, bson.M{"email": email})
}

func (u users) FindByResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, common.ErrNotFound
	}
	return u.findOne(ctx, bson.M{"resetPasswordToken": token})
}

func (u users) FindByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return nil, nil
	}
	cur, err := u.c.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (u users) Insert(ctx context.Context, usr *model.User) (string, error) {
	res, err := u.c.InsertOne(ctx, userDoc{
		FirstName:          usr.FirstName,
		LastName:           usr.LastName,
		Age:                usr.Age,
		Email:              usr.Email,
		Password:           usr.PasswordHash,
		ResetPasswordToken: usr.ResetPasswordToken,
		CreatedAt:          usr.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: email already registered", common.ErrInvalidInput)
		}
		return "", err
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (u users) Update(ctx context.Context, id string, p model.UserPatch) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	set, unset := bson.M{}, bson.M{}
	if p.FirstName != nil {
		set["firstName"] = *p.FirstName
	}
	if p.LastName != nil {
		set["lastName"] = *p.LastName
	}
	if p.Age != nil {
		set["age"] = *p.Age
	}
	if p.Email != nil {
		set["email"] = *p.Email
	}
	if p.PasswordHash != nil {
		set["password"] = *p.PasswordHash
	}
	if p.ResetPasswordToken != nil {
		if *p.ResetPasswordToken == "" {
			unset["resetPasswordToken"] = ""
		} else {
			set["resetPasswordToken"] = *p.ResetPasswordToken
		}
	}
	upd := bson.M{}
	if len(set) > 0 {
		upd["$set"] = set
	}
	if len(unset) > 0 {
		upd["$unset"] = unset
	}
	if len(upd) == 0 {
		n, err := u.c.CountDocuments(ctx, bson.M{"_id": oid})
		if err == nil && n == 0 {
			err = common.ErrNotFound
		}
		return err
	}

	res, err := u.c.UpdateByID(ctx, oid, upd)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email already registered", common.ErrInvalidInput)
		}
		return err
	}
	if res.MatchedCount == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (u users) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := u.c.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return common.ErrNotFound
	}
	return nil
}

type meetingDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Title        string             `bson:"title"`
	Description  string             `bson:"description"`
	OwnerID      string             `bson:"ownerId"`
	Participants []string           `bson:"participants"`
	MeetLink     string             `bson:"meetLink"`
	Status       string             `bson:"status"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d meetingDoc) model() model.Meeting {
	return model.Meeting{
		ID:           d.ID.Hex(),
		Title:        d.Title,
		Description:  d.Description,
		OwnerID:      d.OwnerID,
		Participants: d.Participants,
		MeetLink:     d.MeetLink,
		Status:       model.Status(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type meetings struct {
	c    *mongo.Collection
	chat *mongo.Collection
}

func (ms meetings) Get(ctx context.Context, id string) (*model.Meeting, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var d meetingDoc
	if err := ms.c.FindOne(ctx, bson.M{"_id": oid}).Decode(&d); err != nil {
		return nil, notFound(err)
	}
	m := d.model()
	return &m, nil
}

func (ms meetings) List(ctx context.Context) ([]model.Meeting, error) {
	cur, err := ms.c.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var docs []meetingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Meeting, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (ms meetings) Insert(ctx context.Context, m *model.Meeting) (string, error) {
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	res, err := ms.c.InsertOne(ctx, meetingDoc{
		Title:        m.Title,
		Description:  m.Description,
		OwnerID:      m.OwnerID,
		Participants: participants,
		MeetLink:     m.MeetLink,
		Status:       string(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	})
	if err != nil {
		return "", err
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (ms meetings) Update(ctx context.Context, id string, p model.MeetingPatch) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	set := bson.M{"updatedAt": p.UpdatedAt}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Status != nil {
		set["status"] = string(*p.Status)
	}
	res, err := ms.c.UpdateByID(ctx, oid, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (ms meetings) AddParticipant(ctx context.Context, id, uid string, now time.Time) (*model.Meeting, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var d meetingDoc
	err = ms.c.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$addToSet": bson.M{"participants": uid},
			"$set":      bson.M{"updatedAt": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		return nil, notFound(err)
	}
	m := d.model()
	return &m, nil
}

func (ms meetings) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := ms.c.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return common.ErrNotFound
	}
	if _, err := ms.chat.DeleteMany(ctx, bson.M{"meetingId": id}); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

type chatDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	MeetingID string             `bson:"meetingId"`
	SenderID  string             `bson:"senderId"`
	Username  string             `bson:"username"`
	Message   string             `bson:"message"`
	Timestamp time.Time          `bson:"timestamp"`
}

type chat struct{ c *mongo.Collection }

func (c chat) ListByMeeting(ctx context.Context, meetingID string) ([]model.ChatMessage, error) {
	cur, err := c.c.Find(ctx,
		bson.M{"meetingId": meetingID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []chatDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.ChatMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.ChatMessage{
			ID:        d.ID.Hex(),
			MeetingID: d.MeetingID,
			SenderID:  d.SenderID,
			Username:  d.Username,
			Message:   d.Message,
			Timestamp: d.Timestamp,
		})
	}
	return out, nil
}
