package predictor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// predictMethod is served by the model sidecar; request and response are
// google.protobuf.Struct so no generated stubs are needed.
const predictMethod = "/crowdsense.model.v1.DensityModel/Predict"

type GRPCModel struct {
	conn    *grpc.ClientConn
	opts    Options
	breaker *gobreaker.CircuitBreaker
	zones   zoneSet
}

func NewGRPCModel(target string, opts Options) (*GRPCModel, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial model %s: %w", target, err)
	}
	return &GRPCModel{
		conn:    conn,
		opts:    opts,
		breaker: mkCB("model-grpc", opts),
		zones:   newZoneSet(opts.Zones),
	}, nil
}

func (m *GRPCModel) Applies(zoneID string) bool { return m.zones.contains(zoneID) }

func (m *GRPCModel) Predict(ctx context.Context, f Features) (float64, error) {
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}
	res, err := m.breaker.Execute(func() (interface{}, error) {
		return m.invoke(ctx, f)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownLocation) || errors.Is(err, ErrNonPositivePrediction) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return res.(float64), nil
}

func (m *GRPCModel) invoke(ctx context.Context, f Features) (float64, error) {
	req, err := featuresToStruct(f)
	if err != nil {
		return 0, err
	}
	resp := &structpb.Struct{}
	if err := m.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		return 0, err
	}
	return valueFromStruct(resp, f.Location)
}

func (m *GRPCModel) Close() error { return m.conn.Close() }

func featuresToStruct(f Features) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"location":       f.Location,
		"hour":           f.Hour,
		"weekday":        f.Weekday,
		"rssi":           f.RSSI,
		"value":          f.Value,
		"prev_density":   f.PrevDensity,
		"prev2_density":  f.Prev2Density,
		"rolling_mean_3": f.RollingMean3,
		"weekend":        f.Weekend,
	})
}

func valueFromStruct(resp *structpb.Struct, location string) (float64, error) {
	fields := resp.GetFields()
	if e := fields["error"].GetStringValue(); e != "" {
		if strings.Contains(strings.ToLower(e), "unknown location") {
			return 0, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
		}
		return 0, fmt.Errorf("model error: %s", e)
	}
	v, ok := fields["predicted_density"]
	if !ok {
		return 0, errors.New("model response without predicted_density")
	}
	return checkValue(v.GetNumberValue())
}
