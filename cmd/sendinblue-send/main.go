package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/alecthomas/kingpin.v2"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	emailadapter "github.com/example/sendinblue-relay/internal/adapters/email"
	"github.com/example/sendinblue-relay/internal/config"
	"github.com/example/sendinblue-relay/internal/logger"
	"github.com/example/sendinblue-relay/internal/models"
	"github.com/example/sendinblue-relay/internal/providers/factory"
	"github.com/example/sendinblue-relay/internal/providers/sendinblue"
)

type output struct {
	Endpoint   string                             `json:"endpoint"`
	Payload    json.RawMessage                    `json:"payload,omitempty"`
	Status     int                                `json:"status,omitempty"`
	Recipients map[string]*models.RecipientStatus `json:"recipients,omitempty"`
	Ignored    []string                           `json:"ignored_features,omitempty"`
}

func main() {
	app := kingpin.New("sendinblue-send", "Send one email through the Sendinblue v3 API")

	requestFile := app.Flag("request", "JSON email request, as consumed from Kafka").Short('r').ExistingFile()
	from := app.Flag("from", "Sender address").Short('f').String()
	to := app.Flag("to", "Recipient address (repeatable)").Short('t').Strings()
	cc := app.Flag("cc", "Cc address (repeatable)").Strings()
	bcc := app.Flag("bcc", "Bcc address (repeatable)").Strings()
	replyTo := app.Flag("reply-to", "Reply-To address (repeatable)").Strings()
	subject := app.Flag("subject", "Subject line").Short('s').String()
	text := app.Flag("text", "Plain text body").String()
	html := app.Flag("html", "HTML body").String()
	templateID := app.Flag("template", "Sendinblue template id").String()
	tags := app.Flag("tag", "Tag (repeatable)").Strings()
	headers := app.Flag("header", "Extra header as Name=Value (repeatable)").StringMap()

	mock := app.Flag("mock", "Use the mock transport instead of the API").Bool()
	ignoreUnsupported := app.Flag("ignore-unsupported", "Log unsupported features instead of failing").Bool()
	dryRun := app.Flag("dry-run", "Print the request payload without sending").Bool()
	verbose := app.Flag("verbose", "Enables debug logging").Short('v').Bool()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := "info"
	if *verbose {
		level = "debug"
	}
	log, err := logger.NewCLI(level)
	if err != nil {
		app.Fatalf("logger init: %v", err)
	}

	if *mock {
		os.Setenv("EMAIL_TRANSPORT", config.TransportMock)
	}
	sibCfg, timeouts, err := config.LoadSendinblue()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *ignoreUnsupported {
		sibCfg.IgnoreUnsupportedFeatures = true
	}

	req := &models.EmailRequest{
		From:       *from,
		To:         *to,
		CC:         *cc,
		BCC:        *bcc,
		ReplyTo:    *replyTo,
		Subject:    *subject,
		Body:       models.MessageBody{Text: *text, HTML: *html},
		TemplateID: *templateID,
		Tags:       *tags,
		Headers:    *headers,
	}
	if *requestFile != "" {
		if req, err = readRequest(*requestFile); err != nil {
			log.Fatal().Err(err).Str("file", *requestFile).Msg("failed to read request")
		}
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	msg, err := emailadapter.ToMessage(req, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid request")
	}

	// Signals are collected for the output next to the configured policy.
	ignored := &common.CollectSink{}
	sink := common.Tee(factory.FeatureSink(sibCfg, *log), ignored)
	backend, err := factory.Sendinblue(sibCfg, timeouts, *log, sendinblue.WithFeatureSink(sink))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise sendinblue backend")
	}

	if *dryRun {
		p, err := backend.Build(msg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build payload")
		}
		body, err := p.Serialize()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to serialize payload")
		}
		writeOutput(output{Endpoint: backend.APIURL() + p.Endpoint(), Payload: body, Ignored: ignored.Features()})
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeouts.ProviderTimeoutSeconds)*time.Second+5*time.Second)
	defer cancel()

	result, err := backend.Send(ctx, msg)
	if err != nil {
		log.Fatal().Err(err).Str("message_id", req.MessageID).Msg("send failed")
	}

	writeOutput(output{
		Endpoint:   backend.APIURL() + result.Payload.Endpoint(),
		Status:     result.Response.StatusCode,
		Recipients: result.Status.Recipients,
		Ignored:    ignored.Features(),
	})
	log.Info().Str("message_id", req.MessageID).Int("recipients", len(result.Status.Recipients)).Msg("message queued")
}

func readRequest(path string) (*models.EmailRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var req models.EmailRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &req, nil
}

func writeOutput(out output) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
