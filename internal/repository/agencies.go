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

// GetAgencyByPhone resolves the agency that owns an SMS number.
func (c *Client) GetAgencyByPhone(ctx context.Context, phone string) (domain.Agency, error) {
	if strings.TrimSpace(phone) == "" {
		return domain.Agency{}, fmt.Errorf("repository: GetAgencyByPhone: empty phone: %w", domain.ErrNotFound)
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(phonePK(phone), skAgency),
	})
	if err != nil {
		return domain.Agency{}, fmt.Errorf("repository: GetAgencyByPhone get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Agency{}, fmt.Errorf("repository: GetAgencyByPhone %q: %w", phone, domain.ErrNotFound)
	}
	id, err := strAttr(out.Item, "agencyId")
	if err != nil {
		return domain.Agency{}, fmt.Errorf("repository: GetAgencyByPhone decode: %w", err)
	}
	return domain.Agency{ID: id, SMSPhoneNumber: phone}, nil
}

// PutAgencyPhone maps an SMS number to its agency. Provisioning owns this
// mapping; it is exposed for seeding and tests.
func (c *Client) PutAgencyPhone(ctx context.Context, a domain.Agency) error {
	if strings.TrimSpace(a.ID) == "" {
		return &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if !domain.IsE164(a.SMSPhoneNumber) {
		return &domain.ValidationError{Field: "sms_phone_number", Reason: "must be E.164"}
	}
	item := key(phonePK(a.SMSPhoneNumber), skAgency)
	item["agencyId"] = &types.AttributeValueMemberS{Value: a.ID}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutAgencyPhone: %w", err)
	}
	return nil
}
