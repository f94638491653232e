package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"covertext/internal/domain"
)

// FindOrCreateSession upserts the session row for (agencyID, phone) and
// returns it. The id is only assigned when the row is new, so concurrent
// callers for the same key converge on one row and one id.
func (c *Client) FindOrCreateSession(ctx context.Context, agencyID, phone string) (domain.Session, error) {
	if err := validateSessionKey(agencyID, phone); err != nil {
		return domain.Session{}, err
	}

	candidate := newUUID()
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(agencyPK(agencyID), sessionSK(phone)),
		UpdateExpression: aws.String("SET #id = if_not_exists(#id, :id), agencyId = :agency, fromPhone = :phone, createdAt = if_not_exists(createdAt, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":     &types.AttributeValueMemberS{Value: candidate},
			":agency": &types.AttributeValueMemberS{Value: agencyID},
			":phone":  &types.AttributeValueMemberS{Value: phone},
			":now":    &types.AttributeValueMemberS{Value: formatTime(c.now())},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: FindOrCreateSession: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.Session{}, fmt.Errorf("repository: FindOrCreateSession: no attributes returned")
	}

	s, err := itemToSession(out.Attributes)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: FindOrCreateSession decode: %w", err)
	}
	s.Persisted = s.ID != candidate
	return s, nil
}

// SaveSession writes every field of s. The write is rejected when the row
// for the key carries a different session id.
func (c *Client) SaveSession(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return &domain.ValidationError{Field: "session", Reason: "is required"}
	}
	if err := s.Validate(); err != nil {
		return err
	}

	now := c.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                sessionItem(s),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: s.ID},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return &domain.ValidationError{Field: "id", Reason: "conflicts with the stored session for this sender"}
		}
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	s.Persisted = true
	return nil
}

func validateSessionKey(agencyID, phone string) error {
	if strings.TrimSpace(agencyID) == "" {
		return &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if strings.TrimSpace(phone) == "" {
		return &domain.ValidationError{Field: "from_phone", Reason: "is required"}
	}
	if !domain.IsE164(phone) {
		return &domain.ValidationError{Field: "from_phone", Reason: "must be E.164"}
	}
	return nil
}

func sessionItem(s *domain.Session) map[string]types.AttributeValue {
	item := key(agencyPK(s.AgencyID), sessionSK(s.FromPhone))
	item["id"] = &types.AttributeValueMemberS{Value: s.ID}
	item["agencyId"] = &types.AttributeValueMemberS{Value: s.AgencyID}
	item["fromPhone"] = &types.AttributeValueMemberS{Value: s.FromPhone}
	item["state"] = &types.AttributeValueMemberS{Value: string(s.State)}
	item["context"] = mapValue(s.Context.ToMap())
	item["lastActivityAt"] = &types.AttributeValueMemberS{Value: formatTime(s.LastActivityAt)}
	item["expiresAt"] = &types.AttributeValueMemberS{Value: formatTime(s.ExpiresAt)}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(s.CreatedAt)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: formatTime(s.UpdatedAt)}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Session{}, err
	}
	agencyID, err := strAttr(item, "agencyId")
	if err != nil {
		return domain.Session{}, err
	}
	phone, err := strAttr(item, "fromPhone")
	if err != nil {
		return domain.Session{}, err
	}
	state, err := optStrAttr(item, "state")
	if err != nil {
		return domain.Session{}, err
	}
	ctxMap, err := mapAttr(item, "context")
	if err != nil {
		return domain.Session{}, err
	}
	s := domain.Session{
		ID:        id,
		AgencyID:  agencyID,
		FromPhone: phone,
		State:     domain.State(state),
		Context:   domain.SessionContextFromMap(ctxMap),
	}
	if s.LastActivityAt, err = timeAttr(item, "lastActivityAt"); err != nil {
		return domain.Session{}, err
	}
	if s.ExpiresAt, err = timeAttr(item, "expiresAt"); err != nil {
		return domain.Session{}, err
	}
	if s.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Session{}, err
	}
	if s.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}
