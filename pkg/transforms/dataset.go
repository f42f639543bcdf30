package transforms

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/siri"
	"github.com/travigo/sirihub/pkg/util"
)

// FilterEnvironment is what dataset filter expressions are evaluated against.
type FilterEnvironment struct {
	OperatorRef  string
	LineRef      string
	VehicleRef   string
	DirectionRef string
	DatasetID    string
}

// Dataset prepares incoming elements of one dataset before they are stored.
type Dataset struct {
	ID string

	ignoreOperators   map[string]bool
	operatorOverrides map[string]string
	filter            *vm.Program
	definitions       []*TransformDefinition
}

func NewDataset(datasetConfig config.DatasetConfig) (*Dataset, error) {
	dataset := &Dataset{
		ID:                datasetConfig.ID,
		ignoreOperators:   map[string]bool{},
		operatorOverrides: datasetConfig.OperatorOverrides,
	}

	for _, operator := range datasetConfig.IgnoreOperators {
		dataset.ignoreOperators[operator] = true
	}

	if datasetConfig.Filter != "" {
		program, err := expr.Compile(datasetConfig.Filter, expr.Env(FilterEnvironment{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile filter for dataset %s: %w", datasetConfig.ID, err)
		}
		dataset.filter = program
	}

	for _, transformConfig := range datasetConfig.Transforms {
		dataset.definitions = append(dataset.definitions, NewTransformDefinition(transformConfig))
	}

	return dataset, nil
}

// NewDatasets indexes the configured datasets by id.
func NewDatasets(datasetConfigs []config.DatasetConfig) (map[string]*Dataset, error) {
	datasets := map[string]*Dataset{}

	for _, datasetConfig := range datasetConfigs {
		dataset, err := NewDataset(datasetConfig)
		if err != nil {
			return nil, err
		}
		datasets[dataset.ID] = dataset
	}

	return datasets, nil
}

// MapLineRef combines a line reference with its operator scoped form,
// e.g. "1234" from operator "ATB" becomes "1234$ATB:Line:1234".
func (d *Dataset) MapLineRef(operatorRef string, lineRef string) string {
	if lineRef == "" || strings.Contains(lineRef, ":Line:") || strings.Contains(lineRef, siri.IDSeparator) {
		return lineRef
	}

	operator := operatorRef
	if override, exists := d.operatorOverrides[operatorRef]; exists {
		operator = override
	}
	if operator == "" {
		return lineRef
	}

	return lineRef + siri.IDSeparator + operator + ":Line:" + lineRef
}

func (d *Dataset) keep(environment FilterEnvironment) bool {
	if d.ignoreOperators[environment.OperatorRef] {
		return false
	}

	if d.filter == nil {
		return true
	}

	environment.DatasetID = d.ID

	result, err := expr.Run(d.filter, environment)
	if err != nil {
		log.Error().Err(err).Str("dataset", d.ID).Msg("Failed to evaluate dataset filter")
		return false
	}

	return result.(bool)
}

func (d *Dataset) apply(dataType siri.DataType, element any) {
	for _, definition := range d.definitions {
		if definition.appliesTo(dataType) {
			definition.Transform(element)
		}
	}
}

// EstimatedVehicleJourneys filters and rewrites journeys in place.
func (d *Dataset) EstimatedVehicleJourneys(journeys []*siri.EstimatedVehicleJourney) []*siri.EstimatedVehicleJourney {
	util.InPlaceFilter(&journeys, func(journey *siri.EstimatedVehicleJourney) bool {
		return journey != nil && d.keep(FilterEnvironment{
			OperatorRef:  journey.OperatorRef,
			LineRef:      journey.LineRef,
			VehicleRef:   journey.VehicleRef,
			DirectionRef: journey.DirectionRef,
		})
	})

	for _, journey := range journeys {
		journey.LineRef = d.MapLineRef(journey.OperatorRef, journey.LineRef)
		d.apply(siri.DataTypeEstimatedTimetable, journey)
	}

	return journeys
}

func (d *Dataset) VehicleActivities(activities []*siri.VehicleActivity) []*siri.VehicleActivity {
	util.InPlaceFilter(&activities, func(activity *siri.VehicleActivity) bool {
		if activity == nil || activity.MonitoredVehicleJourney == nil {
			return false
		}

		journey := activity.MonitoredVehicleJourney
		return d.keep(FilterEnvironment{
			OperatorRef:  journey.OperatorRef,
			LineRef:      journey.LineRef,
			VehicleRef:   journey.VehicleRef,
			DirectionRef: journey.DirectionRef,
		})
	})

	for _, activity := range activities {
		journey := activity.MonitoredVehicleJourney
		journey.LineRef = d.MapLineRef(journey.OperatorRef, journey.LineRef)
		d.apply(siri.DataTypeVehicleMonitoring, activity)
	}

	return activities
}

// Situations have no single operator or line, so only the participant is
// checked against ignored operators and the filter.
func (d *Dataset) Situations(situations []*siri.PtSituationElement) []*siri.PtSituationElement {
	util.InPlaceFilter(&situations, func(situation *siri.PtSituationElement) bool {
		return situation != nil && d.keep(FilterEnvironment{OperatorRef: situation.ParticipantRef})
	})

	for _, situation := range situations {
		d.apply(siri.DataTypeSituationExchange, situation)
	}

	return situations
}
