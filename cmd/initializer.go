package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"masterskayaBack/internal/config"
	"masterskayaBack/internal/handlers"
	"masterskayaBack/internal/pay"
	"masterskayaBack/internal/repositories"
	services "masterskayaBack/internal/services"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	db       *sql.DB

	wsManager *WebSocketManager

	ledger    *services.LedgerService
	reconcile *services.ReconcileService
	retry     *services.RetryService

	paymentHandler      *handlers.PaymentHandler
	adminPaymentHandler *handlers.AdminPaymentHandler
}

func initializeApp(cfg config.Config, db *sql.DB, rdb *redis.Client, fcm *messaging.Client, errorLog, infoLog *log.Logger) *application {
	// Repositories
	invoiceRepo := repositories.InvoiceRepository{DB: db}
	masterClassRepo := repositories.MasterClassRepository{DB: db}
	retryRepo := repositories.PaymentRetryRepository{DB: db}
	notificationRepo := repositories.NotificationRepository{DB: db}

	// Gateways
	providers := map[string]pay.Provider{}
	if wallet, err := pay.NewWalletProvider(pay.WalletConfig{
		Receiver:           cfg.Payments.Wallet.Receiver,
		NotificationSecret: cfg.Payments.Wallet.NotificationSecret,
		Token:              cfg.Payments.Wallet.Token,
	}); err != nil {
		errorLog.Printf("wallet provider disabled: %v", err)
	} else {
		providers[pay.ProviderWallet] = wallet
	}
	if acquiring, err := pay.NewAcquiringProvider(pay.AcquiringConfig{
		MerchantID:  cfg.Payments.Acquiring.MerchantID,
		Secret:      cfg.Payments.Acquiring.Secret,
		RefundKey:   cfg.Payments.Acquiring.RefundKey,
		BaseURL:     cfg.Payments.Acquiring.BaseURL,
		CallbackURL: cfg.Payments.Acquiring.CallbackURL,
	}); err != nil {
		errorLog.Printf("acquiring provider disabled: %v", err)
	} else {
		providers[pay.ProviderAcquiring] = acquiring
	}

	// Realtime hub
	wsManager := NewWebSocketManager(infoLog, errorLog)

	// Services
	ledger := &services.LedgerService{
		Invoices:      &invoiceRepo,
		MasterClasses: &masterClassRepo,
		Providers:     providers,
		Publisher:     wsManager,
		InfoLog:       infoLog,
		ErrorLog:      errorLog,
	}
	notify := &services.NotifyService{
		Store:     &notificationRepo,
		Publisher: wsManager,
		FCM:       fcm,
		ErrorLog:  errorLog,
	}
	retry := &services.RetryService{
		Store:       &retryRepo,
		Invoices:    &invoiceRepo,
		Operator:    ledger,
		Notifier:    notify,
		BaseDelay:   cfg.RetryBaseDelay(),
		Exponential: cfg.Payments.Retry.Exponential,
		MaxAttempts: cfg.Payments.Retry.MaxAttempts,
		InfoLog:     infoLog,
		ErrorLog:    errorLog,
	}
	ledger.Retries = retry
	reconcile := &services.ReconcileService{
		Providers:      providers,
		Ledger:         ledger,
		Invoices:       &invoiceRepo,
		PollInterval:   cfg.PollInterval(),
		InterCallDelay: cfg.InterCallDelay(),
		PageSize:       200,
		InfoLog:        infoLog,
		ErrorLog:       errorLog,
	}
	if rdb != nil {
		// типизированный nil в интерфейсе сломал бы проверку s.Dedup == nil
		reconcile.Dedup = rdb
	}

	// Handlers
	paymentHandler := &handlers.PaymentHandler{
		Ledger:     ledger,
		Reconcile:  reconcile,
		SuccessURL: cfg.Payments.SuccessURL,
		FailureURL: cfg.Payments.FailureURL,
	}
	adminPaymentHandler := &handlers.AdminPaymentHandler{
		Ledger:    ledger,
		Reconcile: reconcile,
	}

	return &application{
		errorLog:            errorLog,
		infoLog:             infoLog,
		db:                  db,
		wsManager:           wsManager,
		ledger:              ledger,
		reconcile:           reconcile,
		retry:               retry,
		paymentHandler:      paymentHandler,
		adminPaymentHandler: adminPaymentHandler,
	}
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		return nil, err
	}
	db.SetMaxIdleConns(35)
	log.Println("Successfully connected to database")
	return db, nil
}

func openRedis(addr, password string, dbNum int, errorLog *log.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: dbNum})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		errorLog.Printf("redis unavailable, webhook dedup disabled: %v", err)
		return nil
	}
	return rdb
}

func openFCM(credentialsFile string, errorLog *log.Logger) *messaging.Client {
	if credentialsFile == "" {
		return nil
	}
	ctx := context.Background()
	fbApp, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		errorLog.Printf("firebase init failed, push disabled: %v", err)
		return nil
	}
	client, err := fbApp.Messaging(ctx)
	if err != nil {
		errorLog.Printf("firebase messaging init failed, push disabled: %v", err)
		return nil
	}
	return client
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
