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

// RecordAuditEvent appends an audit event to the agency's partition.
func (c *Client) RecordAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	if strings.TrimSpace(ev.AgencyID) == "" {
		return &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return &domain.ValidationError{Field: "event_type", Reason: "is required"}
	}
	if ev.ID == "" {
		ev.ID = newUUID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = c.now().UTC()
	}

	item := key(agencyPK(ev.AgencyID), auditSK(ev.CreatedAt, ev.ID))
	item["id"] = &types.AttributeValueMemberS{Value: ev.ID}
	item["agencyId"] = &types.AttributeValueMemberS{Value: ev.AgencyID}
	item["eventType"] = &types.AttributeValueMemberS{Value: ev.EventType}
	item["metadata"] = mapValue(ev.Metadata)
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(ev.CreatedAt)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordAuditEvent: %w", err)
	}
	return nil
}
