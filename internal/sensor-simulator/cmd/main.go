// Command counter-sim publishes simulated head counts for one zone.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/crowdsense/internal/config"
	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/ingest"
	sensorSimulator "github.com/LeonardoBeccarini/crowdsense/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
	"github.com/LeonardoBeccarini/crowdsense/pkg/rabbitmq"
)

func main() {
	zoneID := flag.String("zone", "canteen", "zone id to simulate")
	clientID := flag.String("client-id", "counterPublisher1", "MQTT client ID")
	host := flag.String("host", "localhost", "MQTT broker host")
	port := flag.Int("port", 1883, "MQTT broker port")
	interval := flag.Duration("interval", 2*time.Second, "publish interval")
	alertTopic := flag.String("alert-topic", "event/alert", "topic alerts are published on")
	zonesPath := flag.String("zones", "", "zones JSON file, built-in zones when empty")
	factor := flag.Float64("dispersal", 0.6, "crowd share that stays after an alert")
	lasts := flag.Duration("dispersal-for", 10*time.Minute, "how long a dispersal lasts")
	flag.Parse()

	logger.Setup(os.Getenv("LOG_LEVEL"), true)

	zones, err := config.LoadZones(*zonesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load zones")
	}
	var (
		zone  entities.Zone
		found bool
	)
	for _, z := range zones {
		if z.ID == *zoneID {
			zone, found = z, true
			break
		}
	}
	if !found {
		log.Fatal().Str("zone", *zoneID).Msg("unknown zone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
		Host:     *host,
		Port:     *port,
		User:     "guest",
		Password: "guest",
		ClientID: *clientID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect")
	}

	publisher := rabbitmq.NewPublisher(client, ingest.TopicPrefix+"/"+zone.ID)
	consumer := rabbitmq.NewConsumer(client, *alertTopic, nil)
	generator := sensorSimulator.NewCountGenerator(zone, time.Now().UnixNano())
	sim := sensorSimulator.NewCounterSimulator(consumer, publisher, generator, zone, sensorSimulator.Dispersal{
		Factor:   *factor,
		Duration: *lasts,
	})

	log.Info().Str("zone", zone.ID).Dur("interval", *interval).Msg("counter simulator started")
	sim.Start(ctx, *interval)
}
