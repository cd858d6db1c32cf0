// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package dynamodbsink

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/wneessen/location-manager/internal/position"
	"github.com/wneessen/location-manager/internal/transport"
)

const name = "dynamodb"

// putItemAPI is the part of *dynamodb.Client the sink uses.
type putItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Sink stores positions in a DynamoDB table keyed by device_id. Every Send overwrites the
// item of the device with its latest position.
type Sink struct {
	client   putItemAPI
	table    string
	deviceID string
}

// New loads the default AWS configuration for region and returns a Sink writing to table.
func New(ctx context.Context, table, region, deviceID string) (*Sink, error) {
	if table == "" {
		return nil, errors.New("table name is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	conf, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSink(dynamodb.NewFromConfig(conf), table, deviceID), nil
}

func newSink(client putItemAPI, table, deviceID string) *Sink {
	return &Sink{
		client:   client,
		table:    table,
		deviceID: deviceID,
	}
}

func (s *Sink) Name() string {
	return name
}

func (s *Sink) Send(ctx context.Context, pos position.Position) error {
	item, err := attributevalue.MarshalMap(transport.NewPayload(s.deviceID, pos))
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	if _, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to save position to DynamoDB: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return nil
}
