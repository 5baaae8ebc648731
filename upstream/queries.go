package upstream

// DevicesQuery lists devices one page at a time, sorted by id.
const DevicesQuery = `
query GetDevices($first: Int!, $after: String) {
  devices(first: $first, after: $after, sort: { direction: ASC, field: ID }) {
    edges {
      cursor
      node {
        id
        uuid
        externalId
        name
        enabled
        address
        frameRate
        position {
          type
          coordinates
        }
        site {
          id
          name
        }
      }
    }
    pageInfo {
      hasNextPage
      hasPreviousPage
      startCursor
      endCursor
    }
  }
}`

// TracksQuery lists tracks with their video, detections and data source within a time window.
const TracksQuery = `
query GetDetailedTracks($start: DateTimeOffset!, $end: DateTimeOffset!) {
  tracks(filter: { time: { between: [$start, $end] } }) {
    edges {
      node {
        id
        tag
        startTime
        endTime
        video {
          id
          dataSource {
            name
            id
            device {
              id
              uuid
              name
              site {
                id
                name
              }
            }
            type
          }
          thumbnailUrl
          url
          resolutionWidth
          resolutionHeight
          frameRate
        }
        detections {
          timestamp
          position {
            coordinates
          }
        }
        dataSource {
          id
          name
          type
          device {
            id
            uuid
            externalId
            name
            enabled
            address
            frameRate
            site {
              id
              name
            }
          }
        }
      }
      cursor
    }
    pageInfo {
      hasNextPage
      hasPreviousPage
      startCursor
      endCursor
    }
  }
}`

// DetectionsByTimeRangeQuery lists detections within a time window, oldest first.
const DetectionsByTimeRangeQuery = `
query GetDetectionsByTimeRange($start: DateTimeOffset!, $end: DateTimeOffset!) {
  detections(
    filter: { time: { between: [$start, $end] } }
    sort: { field: DETECTION_TIME, direction: ASC }
  ) {
    edges {
      node {
        direction
        createdAt
        updatedAt
        timestamp
        track {
          id
          startTime
          endTime
          metadata
          dataSource {
            id
            name
            type
            device {
              id
              uuid
              name
              address
              frameRate
              site {
                name
              }
            }
            zones {
              id
              name
            }
          }
        }
      }
    }
  }
}`

// DetectionsByTagQuery lists the latest detections of tracks with a tag.
const DetectionsByTagQuery = `
query GetDetectionsByTag($tag: String!, $first: Int!) {
  detections(
    first: $first
    filter: { track: { tag: { eq: $tag } } }
    sort: [{ field: TIMESTAMP, direction: DESC }]
  ) {
    edges {
      node {
        id
        timestamp
        position {
          coordinates
        }
        confidence
        track {
          id
          tag
          startTime
        }
        device {
          id
          name
        }
      }
    }
  }
}`

// createEventProducerMutation takes the producer as an input literal, see CreateEventProducer.
const createEventProducerMutation = `
mutation CreateEventProducer {
  createEventProducer(eventProducer: %s) {
    id
    name
    metadata
    active
    description
  }
}`

// CreateEventMutation creates an event from a CreateEventInput variable.
const CreateEventMutation = `
mutation CreateEvent($input: CreateEventInput!) {
  createEvent(event: $input) {
    id
    type
    subType
    startTime
    endTime
    draft
    metadata
    eventProducer {
      id
      name
    }
  }
}`

// DetectionActivitySubscription streams live detections of one device.
const DetectionActivitySubscription = `
subscription OnDeviceDetection($deviceId: ID!) {
  detectionActivity(filter: { dataSourceId: { eq: $deviceId } }) {
    track {
      id
      dataSource {
        name
      }
      tag
      video {
        url
        thumbnailUrl
        displayName
        resolutionHeight
        resolutionWidth
        dataSource {
          id
          name
          type
          device {
            name
          }
        }
      }
      detections {
        timestamp
        metadata
        createdAt
        updatedAt
        direction
        geofenceIds
        zoneIds
        globalTrackId
        deviceId
        tag
        polygon {
          type
          coordinates
        }
        position {
          type
          coordinates
        }
      }
    }
    timestamp
    direction
    position {
      type
      coordinates
    }
    polygon {
      type
      coordinates
    }
  }
}`
