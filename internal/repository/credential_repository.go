package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/resetguard/resetguard/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	PhoneNumberIndex = "phone_number-index"
	UsernameIndex    = "username-index"
)

var (
	ErrCredentialExists  = errors.New("credential already exists")
	ErrCredentialMissing = errors.New("credential does not exist")
)

// DynamoAPI is the subset of *dynamodb.Client used by the repositories.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type CredentialRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewCredentialRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *CredentialRepository {
	return &CredentialRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// GetByPhoneNumber returns the credential registered to phoneNumber, or nil
// when there is none.
func (r *CredentialRepository) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Credential, error) {
	return r.findOne(ctx, PhoneNumberIndex, "phone_number", phoneNumber)
}

// GetByUsername returns the credential for username, or nil when there is none.
func (r *CredentialRepository) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	return r.findOne(ctx, UsernameIndex, "username", username)
}

func (r *CredentialRepository) findOne(ctx context.Context, index, attr, value string) (*models.Credential, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#attr = :value"),
		ExpressionAttributeNames: map[string]string{
			"#attr": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		r.logger.WithError(err).WithField("index", index).Error("Failed to query credential from DynamoDB")
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var credential models.Credential
	if err := attributevalue.UnmarshalMap(result.Items[0], &credential); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal credential from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &credential, nil
}

// Create stores a new credential. Uniqueness of username and phone number is
// checked against the indexes before the write.
func (r *CredentialRepository) Create(ctx context.Context, credential *models.Credential) error {
	existing, err := r.GetByUsername(ctx, credential.Username)
	if err != nil {
		return err
	}
	if existing == nil {
		existing, err = r.GetByPhoneNumber(ctx, credential.PhoneNumber)
		if err != nil {
			return err
		}
	}
	if existing != nil {
		return ErrCredentialExists
	}

	if credential.ID == "" {
		credential.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	credential.CreatedAt = now
	credential.UpdatedAt = now

	item, err := attributevalue.MarshalMap(credential)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal credential for DynamoDB")
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: credential.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: credential.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return ErrCredentialExists
		}
		r.logger.WithError(err).Error("Failed to create credential in DynamoDB")
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// UpdateRequestID records the verification request most recently issued for
// the credential. Earlier request ids are overwritten.
func (r *CredentialRepository) UpdateRequestID(ctx context.Context, id, requestID string) error {
	now := time.Now().UTC()
	return r.update(ctx, id,
		"SET request_id = :request_id, request_issued_at = :issued_at, updated_at = :updated_at",
		map[string]types.AttributeValue{
			":request_id": &types.AttributeValueMemberS{Value: requestID},
			":issued_at":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":updated_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		})
}

// UpdatePassword replaces the stored password hash.
func (r *CredentialRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, id,
		"SET password_hash = :password_hash, updated_at = :updated_at",
		map[string]types.AttributeValue{
			":password_hash": &types.AttributeValueMemberS{Value: passwordHash},
			":updated_at":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		})
}

func (r *CredentialRepository) update(ctx context.Context, id, expression string, values map[string]types.AttributeValue) error {
	key := &models.Credential{ID: id}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: key.GetSK()},
		},
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var conditionErr *types.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return ErrCredentialMissing
		}
		r.logger.WithError(err).WithField("credential_id", id).Error("Failed to update credential in DynamoDB")
		return fmt.Errorf("failed to update credential: %w", err)
	}

	return nil
}
