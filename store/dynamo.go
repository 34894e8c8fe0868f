package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoConfig — параметры подключения к DynamoDB. Endpoint и статические
// ключи опциональны (нужны для dynamodb-local и совместимых хранилищ).
type DynamoConfig struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// dynamoStore реализует Store поверх одной таблицы DynamoDB с составным
// ключом PK/SK. Версия записи — числовой атрибут, CAS — condition expression.
type dynamoStore struct {
	client *dynamodb.Client
	table  string
}

type dynamoItem struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Payload []byte `dynamodbav:"Payload,omitempty"`
	Version int64  `dynamodbav:"Version"`
}

// NewDynamo создаёт клиент DynamoDB.
func NewDynamo(ctx context.Context, cfg DynamoConfig) (Store, error) {
	if cfg.TableName == "" {
		return nil, errors.New("invalid DynamoDB configuration: table name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(sdkCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &dynamoStore{client: client, table: cfg.TableName}, nil
}

// transientDynamoError распознаёт троттлинг и внутренние сбои сервиса.
func transientDynamoError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ProvisionedThroughputExceededException",
		"ThrottlingException",
		"RequestLimitExceeded",
		"InternalServerError",
		"ServiceUnavailable":
		return true
	}
	return false
}

func mapDynamoError(err error) error {
	if transientDynamoError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *dynamoStore) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *dynamoStore) Get(ctx context.Context, pk, sk string) (*Record, error) {
	var rec *Record
	err := withRetry(ctx, func() error {
		out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.table),
			Key:            s.key(pk, sk),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return mapDynamoError(err)
		}
		if len(out.Item) == 0 {
			return ErrRecordNotFound
		}

		var item dynamoItem
		if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
			return fmt.Errorf("failed to unmarshal record %s/%s: %w", pk, sk, err)
		}
		rec = &Record{PK: item.PK, SK: item.SK, Payload: item.Payload, Version: item.Version}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *dynamoStore) Put(ctx context.Context, rec *Record) error {
	return withRetry(ctx, func() error {
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.table),
			Key:              s.key(rec.PK, rec.SK),
			UpdateExpression: aws.String("SET #p = :p ADD #ver :one"),
			ExpressionAttributeNames: map[string]string{
				"#p":   "Payload",
				"#ver": "Version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p":   &types.AttributeValueMemberB{Value: rec.Payload},
				":one": &types.AttributeValueMemberN{Value: "1"},
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		if err != nil {
			return mapDynamoError(err)
		}
		if v, ok := out.Attributes["Version"].(*types.AttributeValueMemberN); ok {
			if parsed, parseErr := strconv.ParseInt(v.Value, 10, 64); parseErr == nil {
				rec.Version = parsed
			}
		}
		return nil
	})
}

func (s *dynamoStore) Update(ctx context.Context, rec *Record, expectedVersion int64) error {
	return withRetry(ctx, func() error {
		item, err := attributevalue.MarshalMap(dynamoItem{
			PK:      rec.PK,
			SK:      rec.SK,
			Payload: rec.Payload,
			Version: expectedVersion + 1,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal record %s/%s: %w", rec.PK, rec.SK, err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_exists(PK) AND #ver = :v"),
			ExpressionAttributeNames: map[string]string{
				"#ver": "Version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
			},
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				// Условие не выполняется и когда записи нет вовсе.
				if _, getErr := s.Get(ctx, rec.PK, rec.SK); errors.Is(getErr, ErrRecordNotFound) {
					return ErrRecordNotFound
				}
				return ErrVersionConflict
			}
			return mapDynamoError(err)
		}
		rec.Version = expectedVersion + 1
		return nil
	})
}

func (s *dynamoStore) Delete(ctx context.Context, pk, sk string) error {
	return withRetry(ctx, func() error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(s.table),
			Key:                 s.key(pk, sk),
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				return ErrRecordNotFound
			}
			return mapDynamoError(err)
		}
		return nil
	})
}

func (s *dynamoStore) Query(ctx context.Context, pk, skPrefix string) ([]*Record, error) {
	keyCond := "PK = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skPrefix != "" {
		keyCond = "PK = :pk AND begins_with(SK, :prefix)"
		values[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var records []*Record
	err := withRetry(ctx, func() error {
		records = records[:0]
		var startKey map[string]types.AttributeValue
		for {
			out, err := s.client.Query(ctx, &dynamodb.QueryInput{
				TableName:                 aws.String(s.table),
				KeyConditionExpression:    aws.String(keyCond),
				ExpressionAttributeValues: values,
				ExclusiveStartKey:         startKey,
			})
			if err != nil {
				return mapDynamoError(err)
			}

			var items []dynamoItem
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
				return fmt.Errorf("failed to unmarshal query page for %s: %w", pk, err)
			}
			for _, item := range items {
				records = append(records, &Record{
					PK: item.PK, SK: item.SK, Payload: item.Payload, Version: item.Version,
				})
			}

			if len(out.LastEvaluatedKey) == 0 {
				return nil
			}
			startKey = out.LastEvaluatedKey
		}
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *dynamoStore) Add(ctx context.Context, pk, sk string, delta int64) (int64, error) {
	var value int64
	err := withRetry(ctx, func() error {
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.table),
			Key:              s.key(pk, sk),
			UpdateExpression: aws.String("ADD #val :d"),
			ExpressionAttributeNames: map[string]string{
				"#val": "Value",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		if err != nil {
			return mapDynamoError(err)
		}
		v, ok := out.Attributes["Value"].(*types.AttributeValueMemberN)
		if !ok {
			return fmt.Errorf("counter %s/%s: unexpected attribute shape", pk, sk)
		}
		parsed, parseErr := strconv.ParseInt(v.Value, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("counter %s/%s: %w", pk, sk, parseErr)
		}
		value = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}
