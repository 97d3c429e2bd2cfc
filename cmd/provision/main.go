// Command provision creates the credential record a user needs before a
// password reset code can be issued to their phone.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"regexp"

	"github.com/resetguard/resetguard/internal/config"
	"github.com/resetguard/resetguard/internal/models"
	"github.com/resetguard/resetguard/internal/repository"
	"github.com/resetguard/resetguard/internal/service"
	"github.com/sirupsen/logrus"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func main() {
	username := flag.String("username", "", "unique username")
	phone := flag.String("phone", "", "phone number in E.164 format")
	password := flag.String("password", "", "initial password")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if *username == "" || *password == "" || !e164.MatchString(*phone) {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadStore()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	ctx := context.Background()

	dynamoClient, err := repository.NewDynamoClient(ctx, cfg.DynamoDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}
	repo := repository.NewCredentialRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	hash, err := service.NewPasswordService(repo, cfg.Verify.PasswordHashCost, logger).Hash(*password)
	if err != nil {
		logger.WithError(err).Fatal("Failed to hash password")
	}

	credential := &models.Credential{
		Username:     *username,
		PhoneNumber:  *phone,
		PasswordHash: hash,
	}
	err = repo.Create(ctx, credential)
	if errors.Is(err, repository.ErrCredentialExists) {
		logger.WithFields(logrus.Fields{
			"username": *username,
			"phone":    *phone,
		}).Fatal("Username or phone number already registered")
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create credential")
	}

	logger.WithFields(logrus.Fields{
		"id":       credential.ID,
		"username": credential.Username,
		"phone":    credential.PhoneNumber,
	}).Info("Credential provisioned")
}
