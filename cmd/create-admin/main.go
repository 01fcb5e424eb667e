package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/logger"
	"mailport/backend/internal/service"
	"mailport/backend/internal/storage/factory"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: create-admin <email> <password> <username> [admin|destek] [full name]")
		os.Exit(1)
	}

	input := service.CreateUserInput{
		Email:    os.Args[1],
		Password: os.Args[2],
		Username: os.Args[3],
		Role:     domain.RoleAdmin,
	}
	if len(os.Args) >= 5 {
		input.Role = domain.UserRole(os.Args[4])
		if !input.Role.Valid() {
			fmt.Printf("Invalid role %q, expected admin or destek\n", os.Args[4])
			os.Exit(1)
		}
	}
	if len(os.Args) >= 6 {
		input.FullName = os.Args[5]
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDevelopmentLogger()
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	stores, err := factory.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	user, err := service.NewAdminService(stores.Store, log).CreateUser(ctx, input)
	if err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("User created successfully!")
	fmt.Printf("ID:       %s\n", user.ID)
	fmt.Printf("Email:    %s\n", user.Email)
	fmt.Printf("Username: %s\n", user.Username)
	fmt.Printf("Role:     %s\n", user.Role)
}
