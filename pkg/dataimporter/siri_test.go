package dataimporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siriDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Siri xmlns="http://www.siri.org.uk/siri" version="2.0">
  <ServiceDelivery>
    <ResponseTimestamp>2024-03-04T10:00:00Z</ResponseTimestamp>
    <EstimatedTimetableDelivery version="2.0">
      <EstimatedJourneyVersionFrame>
        <EstimatedVehicleJourney>
          <RecordedAtTime>2024-03-04T09:59:00Z</RecordedAtTime>
          <LineRef>ATB:Line:2_3</LineRef>
          <DirectionRef>0</DirectionRef>
          <FramedVehicleJourneyRef>
            <DataFrameRef>2024-03-04</DataFrameRef>
            <DatedVehicleJourneyRef>ATB:ServiceJourney:1</DatedVehicleJourneyRef>
          </FramedVehicleJourneyRef>
          <OperatorRef>ATB</OperatorRef>
          <IsCompleteStopSequence>true</IsCompleteStopSequence>
          <RecordedCalls>
            <RecordedCall>
              <StopPointRef>NSR:Quay:1</StopPointRef>
              <Order>1</Order>
              <AimedDepartureTime>2024-03-04T10:50:00+01:00</AimedDepartureTime>
              <ActualDepartureTime>2024-03-04T10:51:00+01:00</ActualDepartureTime>
            </RecordedCall>
          </RecordedCalls>
          <EstimatedCalls>
            <EstimatedCall>
              <StopPointRef>NSR:Quay:2</StopPointRef>
              <Order>2</Order>
              <AimedArrivalTime>2024-03-04T11:05:00+01:00</AimedArrivalTime>
              <ExpectedArrivalTime>2024-03-04T11:06:00+01:00</ExpectedArrivalTime>
            </EstimatedCall>
            <EstimatedCall>
              <StopPointRef>NSR:Quay:3</StopPointRef>
              <Order>3</Order>
              <Cancellation>true</Cancellation>
              <AimedArrivalTime>2024-03-04T11:10:00+01:00</AimedArrivalTime>
            </EstimatedCall>
          </EstimatedCalls>
        </EstimatedVehicleJourney>
      </EstimatedJourneyVersionFrame>
    </EstimatedTimetableDelivery>
    <VehicleMonitoringDelivery version="2.0">
      <VehicleActivity>
        <RecordedAtTime>2024-03-04T09:59:30Z</RecordedAtTime>
        <ValidUntilTime>2024-03-04T10:09:30Z</ValidUntilTime>
        <MonitoredVehicleJourney>
          <LineRef>ATB:Line:2_3</LineRef>
          <DirectionRef>0</DirectionRef>
          <OperatorRef>ATB</OperatorRef>
          <Monitored>true</Monitored>
          <VehicleLocation>
            <Longitude>10.39</Longitude>
            <Latitude>63.43</Latitude>
          </VehicleLocation>
          <Bearing>180</Bearing>
          <VehicleRef>1234</VehicleRef>
        </MonitoredVehicleJourney>
      </VehicleActivity>
    </VehicleMonitoringDelivery>
    <SituationExchangeDelivery version="2.0">
      <Situations>
        <PtSituationElement>
          <CreationTime>2024-03-04T08:00:00Z</CreationTime>
          <ParticipantRef>ATB</ParticipantRef>
          <SituationNumber>ATB:SituationNumber:42</SituationNumber>
          <Progress>open</Progress>
          <ValidityPeriod>
            <StartTime>2024-03-04T08:00:00Z</StartTime>
            <EndTime>2024-03-04T18:00:00Z</EndTime>
          </ValidityPeriod>
          <ReportType>incident</ReportType>
          <Summary xml:lang="NO">Stengt holdeplass</Summary>
          <Affects>
            <Networks>
              <AffectedNetwork>
                <AffectedLine>
                  <LineRef>ATB:Line:2_3</LineRef>
                </AffectedLine>
              </AffectedNetwork>
            </Networks>
          </Affects>
        </PtSituationElement>
      </Situations>
    </SituationExchangeDelivery>
  </ServiceDelivery>
</Siri>`

func TestParseSiri(t *testing.T) {
	delivery, err := ParseSiri(strings.NewReader(siriDocument))
	require.NoError(t, err)

	require.Len(t, delivery.EstimatedVehicleJourneys, 1)
	journey := delivery.EstimatedVehicleJourneys[0]
	assert.Equal(t, "ATB:Line:2_3", journey.LineRef)
	assert.Equal(t, "ATB", journey.OperatorRef)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 59, 0, 0, time.UTC), journey.RecordedAtTime.UTC())
	require.NotNil(t, journey.FramedVehicleJourneyRef)
	assert.Equal(t, "ATB:ServiceJourney:1", journey.FramedVehicleJourneyRef.DatedVehicleJourneyRef)
	require.NotNil(t, journey.IsCompleteStopSequence)
	assert.True(t, *journey.IsCompleteStopSequence)

	require.Len(t, journey.RecordedCalls, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 51, 0, 0, time.UTC), journey.RecordedCalls[0].ActualDepartureTime.UTC())
	require.Len(t, journey.EstimatedCalls, 2)
	assert.Equal(t, "NSR:Quay:2", journey.EstimatedCalls[0].StopPointRef)
	assert.True(t, journey.EstimatedCalls[1].Cancellation)
	assert.True(t, journey.HasPatternChange())

	require.Len(t, delivery.VehicleActivities, 1)
	activity := delivery.VehicleActivities[0]
	require.NotNil(t, activity.MonitoredVehicleJourney)
	assert.Equal(t, "1234", activity.MonitoredVehicleJourney.VehicleRef)
	assert.Equal(t, 63.43, activity.MonitoredVehicleJourney.VehicleLocation.Latitude)
	assert.Equal(t, 180.0, activity.MonitoredVehicleJourney.Bearing)
	assert.True(t, activity.MonitoredVehicleJourney.Monitored)

	require.Len(t, delivery.Situations, 1)
	situation := delivery.Situations[0]
	assert.Equal(t, "ATB:SituationNumber:42", situation.SituationNumber)
	assert.Equal(t, "Stengt holdeplass", situation.Summary)
	require.Len(t, situation.ValidityPeriods, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC), situation.ValidityPeriods[0].EndTime.UTC())
	assert.Equal(t, []string{"ATB:Line:2_3"}, situation.AffectedLineRefs)

	assert.Equal(t, 3, delivery.Size())
}

func TestParseSiriCharset(t *testing.T) {
	var document bytes.Buffer
	document.WriteString(`<?xml version="1.0" encoding="ISO-8859-1"?><Siri><EstimatedVehicleJourney><LineRef>L1</LineRef><EstimatedCalls><EstimatedCall><StopPointName>Tr`)
	document.WriteByte(0xF8) // ø in Latin-1
	document.WriteString(`ndheim</StopPointName></EstimatedCall></EstimatedCalls></EstimatedVehicleJourney></Siri>`)

	delivery, err := ParseSiri(&document)
	require.NoError(t, err)

	require.Len(t, delivery.EstimatedVehicleJourneys, 1)
	assert.Equal(t, "Trøndheim", delivery.EstimatedVehicleJourneys[0].EstimatedCalls[0].StopPointName)
}

func TestParseSiriSkipsBrokenElements(t *testing.T) {
	document := `<Siri>
  <VehicleActivity>
    <RecordedAtTime>yesterday</RecordedAtTime>
    <MonitoredVehicleJourney><VehicleRef>1</VehicleRef></MonitoredVehicleJourney>
  </VehicleActivity>
  <VehicleActivity>
    <RecordedAtTime>2024-03-04T09:59:30Z</RecordedAtTime>
    <MonitoredVehicleJourney><VehicleRef>2</VehicleRef></MonitoredVehicleJourney>
  </VehicleActivity>
</Siri>`

	delivery, err := ParseSiri(strings.NewReader(document))
	require.NoError(t, err)

	require.Len(t, delivery.VehicleActivities, 1)
	assert.Equal(t, "2", delivery.VehicleActivities[0].MonitoredVehicleJourney.VehicleRef)
}

func TestParseSiriMalformedDocument(t *testing.T) {
	_, err := ParseSiri(strings.NewReader(`<Siri><ServiceDelivery></Siri>`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
