package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"covertext/internal/domain"
)

// CreateMessage persists a new message log row. When the message carries a
// provider id, a PROVIDER# pointer is written in the same transaction so a
// replayed webhook fails with domain.ErrDuplicate.
func (c *Client) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if strings.TrimSpace(msg.AgencyID) == "" {
		return domain.Message{}, &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if msg.Direction != domain.DirectionInbound && msg.Direction != domain.DirectionOutbound {
		return domain.Message{}, &domain.ValidationError{Field: "direction", Reason: "must be inbound or outbound"}
	}
	if msg.ID == "" {
		msg.ID = newUUID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now().UTC()
	}

	if msg.ProviderMessageID == "" {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                messageItem(msg),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if err != nil {
			return domain.Message{}, fmt.Errorf("repository: CreateMessage: %w", err)
		}
		return msg, nil
	}

	pointer := key(providerPK(msg.ProviderMessageID), skMessage)
	pointer["messageId"] = &types.AttributeValueMemberS{Value: msg.ID}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                pointer,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		if isTransactionConditionFailure(err) {
			return domain.Message{}, fmt.Errorf("repository: CreateMessage provider id %q: %w", msg.ProviderMessageID, domain.ErrDuplicate)
		}
		return domain.Message{}, fmt.Errorf("repository: CreateMessage: %w", err)
	}
	return msg, nil
}

// GetMessage loads a message by id.
func (c *Client) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Message{}, fmt.Errorf("repository: GetMessage: empty id: %w", domain.ErrNotFound)
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(messagePK(id), skMessage),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Message{}, fmt.Errorf("repository: GetMessage %q: %w", id, domain.ErrNotFound)
	}
	msg, err := itemToMessage(out.Item)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage decode: %w", err)
	}
	return msg, nil
}

// GetMessageByProviderID resolves a carrier message id to its log row.
func (c *Client) GetMessageByProviderID(ctx context.Context, sid string) (domain.Message, error) {
	if strings.TrimSpace(sid) == "" {
		return domain.Message{}, fmt.Errorf("repository: GetMessageByProviderID: empty sid: %w", domain.ErrNotFound)
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(providerPK(sid), skMessage),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessageByProviderID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Message{}, fmt.Errorf("repository: GetMessageByProviderID %q: %w", sid, domain.ErrNotFound)
	}
	id, err := strAttr(out.Item, "messageId")
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessageByProviderID decode: %w", err)
	}
	return c.GetMessage(ctx, id)
}

// UpdateMessageStatus records a carrier delivery status on an existing row.
func (c *Client) UpdateMessageStatus(ctx context.Context, id, status string, at time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(messagePK(id), skMessage),
		UpdateExpression:    aws.String("SET #status = :status, lastStatusAt = :at"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
			":at":     &types.AttributeValueMemberS{Value: formatTime(at)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: UpdateMessageStatus %q: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: UpdateMessageStatus: %w", err)
	}
	return nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := key(messagePK(msg.ID), skMessage)
	item["id"] = &types.AttributeValueMemberS{Value: msg.ID}
	item["agencyId"] = &types.AttributeValueMemberS{Value: msg.AgencyID}
	item["direction"] = &types.AttributeValueMemberS{Value: string(msg.Direction)}
	item["fromPhone"] = &types.AttributeValueMemberS{Value: msg.FromPhone}
	item["toPhone"] = &types.AttributeValueMemberS{Value: msg.ToPhone}
	item["body"] = &types.AttributeValueMemberS{Value: msg.Body}
	item["providerMessageId"] = &types.AttributeValueMemberS{Value: msg.ProviderMessageID}
	item["mediaCount"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", msg.MediaCount)}
	item["status"] = &types.AttributeValueMemberS{Value: msg.Status}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)}
	return item
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	agencyID, err := strAttr(item, "agencyId")
	if err != nil {
		return domain.Message{}, err
	}
	direction, err := strAttr(item, "direction")
	if err != nil {
		return domain.Message{}, err
	}
	from, err := strAttr(item, "fromPhone")
	if err != nil {
		return domain.Message{}, err
	}
	to, _ := optStrAttr(item, "toPhone")
	body, _ := optStrAttr(item, "body")
	sid, _ := optStrAttr(item, "providerMessageId")
	status, _ := optStrAttr(item, "status")
	media := 0
	if _, ok := item["mediaCount"]; ok {
		if media, err = intAttr(item, "mediaCount"); err != nil {
			return domain.Message{}, err
		}
	}
	msg := domain.Message{
		ID:                id,
		AgencyID:          agencyID,
		Direction:         domain.Direction(direction),
		FromPhone:         from,
		ToPhone:           to,
		Body:              body,
		ProviderMessageID: sid,
		MediaCount:        media,
		Status:            status,
	}
	if msg.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Message{}, err
	}
	if msg.LastStatusAt, err = timeAttr(item, "lastStatusAt"); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}
