// Package mongo adapts the workspace database: profile lookup, resource
// existence-and-authorization checks and the call archive.
package mongo

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/soleron/huddle/internal/domain"
)

type Store struct {
	db *mongo.Database
}

func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

type userDoc struct {
	ID       string `bson:"_id"`
	Username string `bson:"username"`
	Avatar   string `bson:"avatar,omitempty"`
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var doc userDoc
	err := s.db.Collection("users").FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, &domain.NotFoundError{Resource: "user", ID: string(id)}
	}
	if err != nil {
		return nil, &domain.TransientInfraError{Op: "mongo user read", Err: err}
	}
	return &domain.User{ID: domain.UserID(doc.ID), Username: doc.Username, Avatar: doc.Avatar}, nil
}

// collections holding member-scoped resources, by room kind.
var kindCollections = map[domain.RoomKind]string{
	domain.RoomWhiteboard: "whiteboards",
	domain.RoomDocument:   "documents",
	domain.RoomChat:       "chats",
	domain.RoomProject:    "projects",
}

// CanAccess checks that the referenced resource exists and lists the user
// among its members.
func (s *Store) CanAccess(ctx context.Context, user domain.UserID, kind domain.RoomKind, id string) error {
	coll, ok := kindCollections[kind]
	if !ok {
		return errors.Errorf("no access collection for room kind %q", kind)
	}

	n, err := s.db.Collection(coll).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return &domain.TransientInfraError{Op: "mongo access read", Err: err}
	}
	if n == 0 {
		return &domain.NotFoundError{Resource: string(kind), ID: id}
	}

	n, err = s.db.Collection(coll).CountDocuments(ctx, bson.M{"_id": id, "members": string(user)})
	if err != nil {
		return &domain.TransientInfraError{Op: "mongo access read", Err: err}
	}
	if n == 0 {
		return &domain.AuthorizationError{Resource: string(kind) + " " + id, Reason: "not a member"}
	}
	return nil
}

// Archive stores the final record of a terminal call.
func (s *Store) Archive(ctx context.Context, call *domain.Call) error {
	_, err := s.db.Collection("calls").InsertOne(ctx, call)
	if err != nil {
		return &domain.TransientInfraError{Op: "mongo call archive", Err: err}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}
